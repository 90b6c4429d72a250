// Package downloader fetches court-publication payloads into a staging
// directory with retry, rate limiting and integrity checks.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jurisline/internal/domain"
	"jurisline/internal/logging"
	"jurisline/internal/resilience"
)

// Status is the tri-state outcome of a fetch.
type Status int

const (
	Found Status = iota
	NotFound
	Failed
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Result of one fetch. Body is set only when Status is Found; Err only when
// Status is Failed.
type Result struct {
	Status     Status
	URL        string
	StatusCode int
	Body       []byte
	Err        error
}

type FileStatus string

const (
	FileDownloaded FileStatus = "downloaded"
	FileSkipped    FileStatus = "skipped"
	FileNotFound   FileStatus = "not_found"
	FileFailed     FileStatus = "failed"
)

type FileResult struct {
	Target
	Status   FileStatus `json:"status"`
	Path     string     `json:"path,omitempty"`
	Checksum string     `json:"checksum,omitempty"`
	Bytes    int64      `json:"bytes,omitempty"`
	Err      error      `json:"-"`
}

// Publication describes the staged payload without its body.
func (f FileResult) Publication(tribunal string) domain.Publication {
	return domain.Publication{
		Tribunal:  tribunal,
		Organ:     f.Organ,
		Year:      f.Year,
		Month:     f.Month,
		SourceURL: f.URL,
		Path:      f.Path,
		Checksum:  f.Checksum,
	}
}

type BatchResult struct {
	Downloaded int          `json:"downloaded"`
	Skipped    int          `json:"skipped"`
	NotFound   int          `json:"not_found"`
	Failed     int          `json:"failed"`
	Files      []FileResult `json:"files"`
}

type Options struct {
	Dir           string
	Timeout       time.Duration
	Concurrency   int
	RatePerSecond float64
	Policy        resilience.Policy
	UserAgent     string
	Client        *http.Client
	Logger        *zap.Logger
}

type Downloader struct {
	Dir   string
	Hosts *resilience.Hosts
	Now   func() time.Time

	client      *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	concurrency int
	userAgent   string
	log         *zap.Logger

	mu        sync.Mutex
	checksums map[string]string
}

func New(opts Options) *Downloader {
	log := logging.OrNop(opts.Logger)
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "jurisline/1.0"
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Downloader{
		Dir:         opts.Dir,
		Hosts:       resilience.NewHosts(opts.Policy, classifyFetchError, log),
		Now:         time.Now,
		client:      opts.Client,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		userAgent:   opts.UserAgent,
		log:         log,
		checksums:   map[string]string{},
	}
}

type httpError struct {
	code      int
	transient bool
	err       error
}

func (e *httpError) Error() string {
	if e.code > 0 {
		return fmt.Sprintf("http status %d", e.code)
	}
	return e.err.Error()
}

func (e *httpError) Unwrap() error { return e.err }

// classifyFetchError retries transient failures and counts only those
// against the host. A 4xx says nothing about the host's health.
func classifyFetchError(err error) resilience.Verdict {
	var he *httpError
	if errors.As(err, &he) && he.transient {
		return resilience.Verdict{Retry: true, Trip: true}
	}
	return resilience.Verdict{}
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Fetch retrieves rawURL. A 404 is reported as NotFound, never as an error.
// Transient failures are retried within the executor budget; a body that is
// not a JSON array or object is Failed with ErrMalformed.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) Result {
	res := Result{URL: rawURL}
	var (
		body     []byte
		notFound bool
	)
	err := d.Hosts.Do(ctx, rawURL, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", d.userAgent)
		req.Header.Set("Accept", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &httpError{transient: isTransientNetErr(err), err: err}
		}
		defer resp.Body.Close()
		res.StatusCode = resp.StatusCode
		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		case resp.StatusCode >= 400:
			_, _ = io.Copy(io.Discard, resp.Body)
			return &httpError{code: resp.StatusCode, transient: transientStatus(resp.StatusCode)}
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &httpError{transient: true, err: err}
		}
		body = data
		return nil
	})

	switch {
	case err != nil:
		res.Status = Failed
		if classifyFetchError(err).Retry || resilience.IsCircuitOpen(err) {
			res.Err = domain.WrapError(domain.ErrTransient, "fetch "+rawURL, err)
		} else {
			res.Err = fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	case notFound:
		res.Status = NotFound
		d.log.Debug("publication not found", zap.String("url", rawURL))
	default:
		if verr := Validate(body); verr != nil {
			res.Status = Failed
			res.Err = verr
			return res
		}
		res.Status = Found
		res.Body = body
	}
	return res
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// Download saves one target into the staging directory. An existing file is
// kept when it still validates, unless force is set; an invalid existing
// file is removed and fetched again.
func (d *Downloader) Download(ctx context.Context, t Target, force bool) FileResult {
	fr := FileResult{Target: t, Path: filepath.Join(d.Dir, t.Filename)}
	log := d.log.With(zap.String("url", t.URL), zap.String("file", t.Filename))

	if _, err := os.Stat(fr.Path); err == nil {
		switch {
		case force:
			log.Debug("forcing download over existing file")
		case ValidateFile(fr.Path) == nil:
			if sum, n, err := FileChecksum(fr.Path); err == nil {
				fr.Checksum, fr.Bytes = sum, n
				d.recordChecksum(t.Filename, sum)
			}
			fr.Status = FileSkipped
			return fr
		default:
			log.Warn("existing file failed validation; fetching again")
			_ = os.Remove(fr.Path)
		}
	}

	r := d.Fetch(ctx, t.URL)
	switch r.Status {
	case NotFound:
		fr.Status = FileNotFound
		fr.Path = ""
		return fr
	case Failed:
		log.Error("download failed", zap.Error(r.Err))
		fr.Status = FileFailed
		fr.Path = ""
		fr.Err = r.Err
		return fr
	}

	if err := writeAtomic(d.Dir, fr.Path, r.Body); err != nil {
		log.Error("write payload failed", zap.Error(err))
		fr.Status = FileFailed
		fr.Path = ""
		fr.Err = fmt.Errorf("write %s: %w", t.Filename, err)
		return fr
	}
	if err := ValidateFile(fr.Path); err != nil {
		log.Error("saved payload failed validation", zap.Error(err))
		_ = os.Remove(fr.Path)
		fr.Status = FileFailed
		fr.Path = ""
		fr.Err = domain.WrapError(domain.ErrCorrupt, "validate "+t.Filename, err)
		return fr
	}
	sum, n, err := FileChecksum(fr.Path)
	if err != nil {
		fr.Status = FileFailed
		fr.Err = domain.WrapError(domain.ErrCorrupt, "checksum "+t.Filename, err)
		return fr
	}
	fr.Checksum, fr.Bytes = sum, n
	d.recordChecksum(t.Filename, sum)
	fr.Status = FileDownloaded
	log.Info("downloaded", zap.Int64("bytes", n), zap.String("sha256", sum))
	return fr
}

func writeAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// DownloadBatch downloads targets with bounded concurrency. Files keep the
// order of targets.
func (d *Downloader) DownloadBatch(ctx context.Context, targets []Target, force bool) BatchResult {
	files := make([]FileResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			files[i] = d.Download(gctx, t, force)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Files: files}
	for _, f := range files {
		switch f.Status {
		case FileDownloaded:
			res.Downloaded++
		case FileSkipped:
			res.Skipped++
		case FileNotFound:
			res.NotFound++
		default:
			res.Failed++
		}
	}
	d.log.Info("download batch finished",
		zap.Int("targets", len(targets)),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("skipped", res.Skipped),
		zap.Int("not_found", res.NotFound),
		zap.Int("failed", res.Failed))
	return res
}

func (d *Downloader) recordChecksum(name, sum string) {
	d.mu.Lock()
	d.checksums[name] = sum
	d.mu.Unlock()
}

// Checksum returns the SHA-256 recorded for a staging file this session.
func (d *Downloader) Checksum(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sum, ok := d.checksums[name]
	return sum, ok
}

// StagingFiles lists staged payloads matching a glob pattern, sorted.
func (d *Downloader) StagingFiles(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.json"
	}
	matches, err := filepath.Glob(filepath.Join(d.Dir, pattern))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".tmp-") {
			continue
		}
		if st, err := os.Stat(m); err == nil && st.Mode().IsRegular() {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CleanupStaging removes staged files last modified more than olderThan ago
// and returns how many were removed.
func (d *Downloader) CleanupStaging(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := d.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(d.Dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		d.log.Info("staging cleaned", zap.Int("removed", removed), zap.Duration("older_than", olderThan))
	}
	return removed, nil
}
