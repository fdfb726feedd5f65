package update

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultProgressInterval is the minimum gap between progress callbacks.
const DefaultProgressInterval = 100 * time.Millisecond

// Error variables for transfer failures.
var (
	ErrIntegrityMismatch   = errors.New("checksum verification failed")
	ErrTransferInterrupted = errors.New("transfer interrupted")
	// ErrArtifactRejected marks a client error from the artifact server.
	// It always comes wrapped with ErrTransferInterrupted and is not retried.
	ErrArtifactRejected = errors.New("artifact request rejected")
	ErrNotVerified         = errors.New("download not verified")
)

// DownloadState tracks a download through its lifetime.
type DownloadState int32

const (
	// DownloadInProgress means bytes are still arriving.
	DownloadInProgress DownloadState = iota
	// DownloadVerified means the artifact is complete and its digest matched.
	DownloadVerified
	// DownloadFailed means the transfer or verification failed; the temp file is gone.
	DownloadFailed
)

// String returns the string representation of a DownloadState.
func (s DownloadState) String() string {
	switch s {
	case DownloadInProgress:
		return "in-progress"
	case DownloadVerified:
		return "verified"
	case DownloadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress is an advisory snapshot of a running download.
type Progress struct {
	Descriptor    ReleaseDescriptor
	BytesReceived int64
	TotalBytes    int64
	Attempt       int
}

// Fraction returns the completed share in [0,1], or 0 when the size is unknown.
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	f := float64(p.BytesReceived) / float64(p.TotalBytes)
	if f > 1 {
		return 1
	}
	return f
}

// DownloadHandle owns a downloaded artifact until the installer takes it.
type DownloadHandle struct {
	Descriptor ReleaseDescriptor
	TempPath   string
	TotalBytes int64

	received atomic.Int64
	state    atomic.Int32
}

// BytesReceived may be read while the download is running.
func (h *DownloadHandle) BytesReceived() int64 {
	return h.received.Load()
}

// State returns the current download state.
func (h *DownloadHandle) State() DownloadState {
	return DownloadState(h.state.Load())
}

// Verified reports whether the artifact passed integrity checks.
func (h *DownloadHandle) Verified() bool {
	return h.State() == DownloadVerified
}

// Discard removes the temp file. The handle is unusable afterwards.
func (h *DownloadHandle) Discard() {
	if h.TempPath != "" {
		_ = os.Remove(h.TempPath)
	}
	h.state.Store(int32(DownloadFailed))
}

func (h *DownloadHandle) fail() {
	h.Discard()
}

// Downloader streams release artifacts into a download directory.
type Downloader struct {
	dir              string
	httpClient       *http.Client
	userAgent        string
	progressInterval time.Duration
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadHTTPClient sets a custom HTTP client for the downloader.
func WithDownloadHTTPClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient = client
	}
}

// WithProgressInterval sets how often progress callbacks may fire.
func WithProgressInterval(interval time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.progressInterval = interval
	}
}

// NewDownloader creates a downloader writing temp files into dir.
func NewDownloader(dir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		dir: dir,
		httpClient: &http.Client{
			Timeout: 0, // No timeout for downloads; cancellation comes from ctx
		},
		userAgent:        "grav-launcher",
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dir returns the download directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// Fetch downloads desc into a temp file and verifies its digest.
// On any failure the temp file is removed and the handle is Failed.
// progress may be nil; it is called at most once per progress interval
// plus once at completion.
func (d *Downloader) Fetch(ctx context.Context, desc ReleaseDescriptor, progress func(Progress)) (*DownloadHandle, error) {
	return d.fetch(ctx, desc, 1, progress)
}

func (d *Downloader) fetch(ctx context.Context, desc ReleaseDescriptor, attempt int, progress func(Progress)) (*DownloadHandle, error) {
	if desc.Checksum == "" {
		return nil, fmt.Errorf("%w: %s %s has no checksum to verify against", ErrIntegrityMismatch, desc.Component, desc.Version)
	}

	//nolint:gosec // G301: download directory needs standard permissions
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(d.dir, fmt.Sprintf("%s-%s-*.part", desc.Component, desc.Version))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	h := &DownloadHandle{Descriptor: desc, TempPath: tmp.Name(), TotalBytes: desc.Size}

	written, err := d.stream(ctx, h, tmp, attempt, progress)
	closeErr := tmp.Close()
	if err != nil {
		h.fail()
		return h, err
	}
	if closeErr != nil {
		h.fail()
		return h, fmt.Errorf("%w: close temp file: %v", ErrTransferInterrupted, closeErr)
	}
	if desc.Size > 0 && written != desc.Size {
		h.fail()
		return h, fmt.Errorf("%w: received %d of %d bytes", ErrTransferInterrupted, written, desc.Size)
	}

	if err := VerifyChecksum(h.TempPath, desc.Checksum); err != nil {
		h.fail()
		return h, err
	}

	h.state.Store(int32(DownloadVerified))
	if progress != nil {
		progress(Progress{Descriptor: desc, BytesReceived: written, TotalBytes: h.TotalBytes, Attempt: attempt})
	}
	return h, nil
}

// retryableStatus reports whether a non-200 response may succeed on retry.
func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func (d *Downloader) stream(ctx context.Context, h *DownloadHandle, dst *os.File, attempt int, progress func(Progress)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.Descriptor.ArtifactURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferInterrupted, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if !retryableStatus(resp.StatusCode) {
			return 0, fmt.Errorf("%w: %w: status %d", ErrTransferInterrupted, ErrArtifactRejected, resp.StatusCode)
		}
		return 0, fmt.Errorf("%w: status %d", ErrTransferInterrupted, resp.StatusCode)
	}
	if h.TotalBytes <= 0 && resp.ContentLength > 0 {
		h.TotalBytes = resp.ContentLength
	}

	pw := &progressWriter{handle: h, attempt: attempt, interval: d.progressInterval, report: progress}
	n, err := io.Copy(io.MultiWriter(dst, pw), resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrTransferInterrupted, err)
	}
	if err := dst.Sync(); err != nil {
		return n, fmt.Errorf("%w: sync: %v", ErrTransferInterrupted, err)
	}
	return n, nil
}

// progressWriter counts bytes and coalesces progress callbacks.
type progressWriter struct {
	handle   *DownloadHandle
	attempt  int
	interval time.Duration
	report   func(Progress)
	last     time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n := w.handle.received.Add(int64(len(p)))
	if w.report == nil {
		return len(p), nil
	}
	now := time.Now()
	if now.Sub(w.last) < w.interval {
		return len(p), nil
	}
	w.last = now
	w.report(Progress{
		Descriptor:    w.handle.Descriptor,
		BytesReceived: n,
		TotalBytes:    w.handle.TotalBytes,
		Attempt:       w.attempt,
	})
	return len(p), nil
}

// Import copies a local artifact into the download directory and verifies it
// against desc, yielding the same kind of handle a network fetch does.
func (d *Downloader) Import(ctx context.Context, desc ReleaseDescriptor, srcPath string) (*DownloadHandle, error) {
	if desc.Checksum == "" {
		return nil, fmt.Errorf("%w: %s has no checksum to verify against", ErrIntegrityMismatch, srcPath)
	}
	//nolint:gosec // G304: operator-supplied artifact path
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = src.Close() }()

	//nolint:gosec // G301: download directory needs standard permissions
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(d.dir, fmt.Sprintf("%s-%s-*.part", desc.Component, desc.Version))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	h := &DownloadHandle{Descriptor: desc, TempPath: tmp.Name(), TotalBytes: desc.Size}

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	h.received.Store(n)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		h.fail()
		return h, fmt.Errorf("copy artifact: %w", err)
	}
	if h.TotalBytes <= 0 {
		h.TotalBytes = n
	}
	if err := VerifyChecksum(h.TempPath, desc.Checksum); err != nil {
		h.fail()
		return h, err
	}
	h.state.Store(int32(DownloadVerified))
	return h, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// VerifyChecksum verifies a file against an expected SHA256 checksum.
func VerifyChecksum(path, expected string) error {
	//nolint:gosec // G304: Path comes from caller; this is intentional for checksum verification
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("%w: expected %s, got %s", ErrIntegrityMismatch, expected, actual)
	}

	return nil
}

// ParseChecksumFile parses sha256sum output and returns a map of filename to checksum.
// Format: "sha256hash  filename" (two spaces between hash and filename).
// A line holding only a digest is stored under the empty filename.
func ParseChecksumFile(r io.Reader) (map[string]string, error) {
	checksums := make(map[string]string)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		hash := fields[0]
		filename := ""
		if len(fields) > 1 {
			// binary-mode marker from sha256sum -b
			filename = filepath.Base(strings.TrimPrefix(strings.Join(fields[1:], " "), "*"))
		}
		checksums[filename] = hash
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	if len(checksums) == 0 {
		return nil, fmt.Errorf("checksum file is empty")
	}

	return checksums, nil
}
