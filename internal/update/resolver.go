package update

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"runtime"
	"sort"
	"strings"
	"time"

	"gravlauncher/internal/versions"
)

// DefaultTimeout bounds a single manifest or checksum request.
const DefaultTimeout = 15 * time.Second

// maxManifestBytes caps how much of a manifest response is read.
const maxManifestBytes = 4 << 20

// Error variables for resolution failures.
var (
	ErrManifestUnreachable = errors.New("release manifest unreachable")
	ErrManifestMalformed   = errors.New("release manifest malformed")
	ErrChannelNotFound     = errors.New("release channel not found")
)

// Artifact is one downloadable file referenced by the manifest.
type Artifact struct {
	URL         string `json:"url"`
	SHA256      string `json:"sha256,omitempty"`
	ChecksumURL string `json:"sha256_url,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ComponentRelease is the manifest entry for one component on one channel.
type ComponentRelease struct {
	Version string `json:"version"`
	Artifact
	Notes     string              `json:"notes,omitempty"`
	Platforms map[string]Artifact `json:"platforms,omitempty"`
}

// Channel groups the releases published on one channel.
type Channel struct {
	Launcher *ComponentRelease `json:"launcher,omitempty"`
	Game     *ComponentRelease `json:"game,omitempty"`
}

// Manifest is the remote document describing the latest release per channel.
type Manifest struct {
	Channels map[string]Channel `json:"channels"`
}

// ReleaseDescriptor is an immutable description of one resolvable release.
type ReleaseDescriptor struct {
	Component   versions.Component
	Channel     string
	Version     Version
	ArtifactURL string
	Checksum    string
	ChecksumURL string
	Size        int64
	Notes       string
}

// ParseManifest decodes a manifest document.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(io.LimitReader(r, maxManifestBytes))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMalformed, err)
	}
	if len(m.Channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrManifestMalformed)
	}
	return &m, nil
}

// ChannelNames returns the published channels, sorted.
func (m *Manifest) ChannelNames() []string {
	names := make([]string, 0, len(m.Channels))
	for name := range m.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a component on a channel for the running platform.
func (m *Manifest) Lookup(c versions.Component, channel string) (ReleaseDescriptor, error) {
	return m.LookupFor(c, channel, runtime.GOOS, runtime.GOARCH)
}

// LookupFor resolves a component on a channel for the given platform.
// Platform-specific artifacts win over the component's default artifact.
func (m *Manifest) LookupFor(c versions.Component, channel, goos, goarch string) (ReleaseDescriptor, error) {
	ch, ok := m.Channels[channel]
	if !ok {
		return ReleaseDescriptor{}, fmt.Errorf("%w: %q (available: %s)", ErrChannelNotFound, channel, strings.Join(m.ChannelNames(), ", "))
	}

	var rel *ComponentRelease
	switch c {
	case versions.Launcher:
		rel = ch.Launcher
	case versions.Game:
		rel = ch.Game
	}
	if rel == nil {
		return ReleaseDescriptor{}, fmt.Errorf("%w: channel %q has no %s release", ErrManifestMalformed, channel, c)
	}

	v, err := ParseVersion(rel.Version)
	if err != nil {
		return ReleaseDescriptor{}, fmt.Errorf("%w: %s version: %v", ErrManifestMalformed, c, err)
	}

	art := rel.Artifact
	if pa, ok := findPlatformArtifact(rel.Platforms, goos, goarch); ok {
		art = pa
	}
	if strings.TrimSpace(art.URL) == "" {
		return ReleaseDescriptor{}, fmt.Errorf("%w: %s %s has no artifact url for %s/%s", ErrManifestMalformed, c, v, goos, goarch)
	}
	checksum := strings.ToLower(strings.TrimSpace(art.SHA256))
	if checksum == "" && strings.TrimSpace(art.ChecksumURL) == "" {
		return ReleaseDescriptor{}, fmt.Errorf("%w: %s %s has no checksum", ErrManifestMalformed, c, v)
	}
	if checksum != "" && !validSHA256(checksum) {
		return ReleaseDescriptor{}, fmt.Errorf("%w: %s checksum %q is not a sha256 digest", ErrManifestMalformed, c, art.SHA256)
	}
	if art.Size < 0 {
		return ReleaseDescriptor{}, fmt.Errorf("%w: %s size is negative", ErrManifestMalformed, c)
	}

	return ReleaseDescriptor{
		Component:   c,
		Channel:     channel,
		Version:     v,
		ArtifactURL: art.URL,
		Checksum:    checksum,
		ChecksumURL: art.ChecksumURL,
		Size:        art.Size,
		Notes:       rel.Notes,
	}, nil
}

// Resolver fetches the release manifest and turns it into descriptors.
// It has no local side effects.
type Resolver struct {
	manifestURL string
	httpClient  *http.Client
	userAgent   string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient sets a custom HTTP client for the resolver.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent sent with manifest requests.
func WithUserAgent(ua string) ResolverOption {
	return func(r *Resolver) {
		r.userAgent = ua
	}
}

// NewResolver creates a resolver for the manifest at manifestURL.
func NewResolver(manifestURL string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		manifestURL: manifestURL,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		userAgent:   "grav-launcher",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchManifest downloads and parses the manifest.
func (r *Resolver) FetchManifest(ctx context.Context) (*Manifest, error) {
	body, err := r.get(ctx, r.manifestURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	return ParseManifest(body)
}

// Resolve fetches the manifest and resolves a single component.
func (r *Resolver) Resolve(ctx context.Context, c versions.Component, channel string) (ReleaseDescriptor, error) {
	m, err := r.FetchManifest(ctx)
	if err != nil {
		return ReleaseDescriptor{}, err
	}
	return r.ResolveFrom(ctx, m, c, channel)
}

// ResolveFrom resolves a component from an already fetched manifest. When
// the entry publishes its digest as a separate checksum file, that file is
// fetched here.
func (r *Resolver) ResolveFrom(ctx context.Context, m *Manifest, c versions.Component, channel string) (ReleaseDescriptor, error) {
	desc, err := m.Lookup(c, channel)
	if err != nil {
		return ReleaseDescriptor{}, err
	}
	if desc.Checksum != "" {
		return desc, nil
	}
	sum, err := r.fetchChecksum(ctx, desc)
	if err != nil {
		return ReleaseDescriptor{}, err
	}
	desc.Checksum = sum
	return desc, nil
}

func (r *Resolver) fetchChecksum(ctx context.Context, desc ReleaseDescriptor) (string, error) {
	body, err := r.get(ctx, desc.ChecksumURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	sums, err := ParseChecksumFile(io.LimitReader(body, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestMalformed, err)
	}
	sum, ok := pickChecksum(sums, path.Base(desc.ArtifactURL))
	if !ok || !validSHA256(sum) {
		return "", fmt.Errorf("%w: no usable digest for %s in %s", ErrManifestMalformed, path.Base(desc.ArtifactURL), desc.ChecksumURL)
	}
	return strings.ToLower(sum), nil
}

func (r *Resolver) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrManifestUnreachable, err)
	}
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrManifestUnreachable, url, resp.StatusCode)
	}
	return resp.Body, nil
}

// pickChecksum selects the digest for file from a parsed checksum file.
// A bare digest (no filename) or a single entry is accepted as-is.
func pickChecksum(sums map[string]string, file string) (string, bool) {
	if sum, ok := sums[file]; ok {
		return sum, true
	}
	if sum, ok := sums[""]; ok {
		return sum, true
	}
	if len(sums) == 1 {
		for _, sum := range sums {
			return sum, true
		}
	}
	return "", false
}

func validSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// findPlatformArtifact picks the artifact whose platform key matches goos/goarch.
func findPlatformArtifact(platforms map[string]Artifact, goos, goarch string) (Artifact, bool) {
	if len(platforms) == 0 {
		return Artifact{}, false
	}
	patterns := buildAssetPatterns(goos, goarch)
	keys := make([]string, 0, len(platforms))
	for k := range platforms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ToLower(k)
		for _, pattern := range patterns {
			if name == pattern || strings.Contains(name, pattern) {
				return platforms[k], true
			}
		}
	}
	return Artifact{}, false
}

// buildAssetPatterns returns patterns to match for the given OS/arch.
func buildAssetPatterns(goos, arch string) []string {
	archPatterns := []string{arch}
	switch arch {
	case "amd64":
		archPatterns = append(archPatterns, "x86_64", "x64")
	case "arm64":
		archPatterns = append(archPatterns, "aarch64")
	case "arm":
		archPatterns = append(archPatterns, "armv7", "armhf")
	}

	var patterns []string
	for _, a := range archPatterns {
		patterns = append(patterns, goos+"_"+a, goos+"-"+a, a+"_"+goos, a+"-"+goos)
	}
	return patterns
}
