// Package update resolves, downloads and verifies launcher and game releases.
//
// This package handles:
//   - Fetching the release manifest and resolving a component on a channel
//   - Comparing semantic versions to decide whether an update applies
//   - Streaming artifacts to a download directory with coalesced progress
//   - Verifying SHA-256 digests and retrying interrupted transfers
//
// Installing a verified artifact is the job of package install; nothing here
// touches the live launcher or game.
//
// Example usage:
//
//	r := update.NewResolver(manifestURL)
//	desc, err := r.Resolve(ctx, versions.Game, "stable")
//	if err != nil {
//	    // offline: launch what is installed
//	}
//	if update.IsNewer(installed, desc.Version) {
//	    h, err := update.NewDownloader(dir).FetchWithRetry(ctx, desc, update.DefaultRetryPolicy(), nil)
//	    ...
//	}
package update
