package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// lockPollInterval is how often a busy lock file is retried.
var lockPollInterval = 100 * time.Millisecond

// acquireFileLock creates lockPath exclusively. A lock older than staleAfter
// is assumed to belong to a crashed launcher and is broken.
func acquireFileLock(ctx context.Context, lockPath string, staleAfter time.Duration) (func(), error) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if staleAfter > 0 {
			if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleAfter {
				_ = os.Remove(lockPath)
				continue
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", lockPath, ctx.Err())
		case <-ticker.C:
		}
	}
}
