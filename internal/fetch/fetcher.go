/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package fetch downloads a single URL through the slow client and measures the achieved bandwidth.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/acronis/go-slowclient/log"
	"github.com/acronis/go-slowclient/retry"
)

// ErrCannotRewind is returned when the download has to start over, but the output already contains data
// and can be neither truncated nor rewound (e.g. stdout).
var ErrCannotRewind = errors.New("output cannot be rewound")

// StatusError is returned when the server responds with an unexpected status code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Result describes a finished (or failed) download.
type Result struct {
	URL        string
	StatusCode int

	// Bytes is the number of bytes written to the output.
	Bytes int64

	// Attempts is the number of requests made.
	Attempts int

	// Elapsed is the time spent transferring data, pauses between retries are not included.
	Elapsed time.Duration
}

// BitsPerSecond returns the achieved bandwidth.
func (r Result) BitsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) * 8 / r.Elapsed.Seconds()
}

// Report returns a human-readable summary of the download compared with the target bandwidth.
func (r Result) Report(targetBitsPerSecond float64) string {
	report := fmt.Sprintf("%s: %s in %s (%d attempt(s)), achieved %.0f bit/s",
		r.URL, bytefmt.ByteSize(uint64(r.Bytes)), r.Elapsed.Round(time.Millisecond), r.Attempts, r.BitsPerSecond())
	if targetBitsPerSecond > 0 {
		report += fmt.Sprintf(", target %.0f bit/s (%.1f%%)", targetBitsPerSecond, r.BitsPerSecond()*100/targetBitsPerSecond)
	}
	return report
}

// Fetcher downloads URLs with an HTTP client, retrying interrupted downloads.
type Fetcher struct {
	Client *http.Client
	Logger log.FieldLogger
	Policy retry.Policy
	Resume bool
}

// NewFetcher creates a new Fetcher. Retries and resuming are configured by cfg.
func NewFetcher(client *http.Client, cfg *Config, logger log.FieldLogger) *Fetcher {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Fetcher{Client: client, Logger: logger, Policy: cfg.Policy(), Resume: cfg.Resume}
}

// Fetch downloads url and writes its body to out.
// When a retry cannot continue from the received position, out is truncated if it's a file.
func (f *Fetcher) Fetch(ctx context.Context, url string, out io.Writer) (Result, error) {
	res := Result{URL: url}
	cw := &countingWriter{w: out}
	logger := f.Logger.With(log.String("url", url))

	isRetryable := func(err error) bool {
		if ctx.Err() != nil || errors.Is(err, ErrCannotRewind) {
			return false
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return statusErr.Temporary()
		}
		return true
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn(fmt.Sprintf("download interrupted, retrying in %s", wait),
			log.Error(err), log.Int64("received", cw.n), log.Int("attempt", res.Attempts))
	}

	err := retry.DoWithRetry(ctx, f.Policy, isRetryable, notify, func(ctx context.Context) error {
		res.Attempts++
		start := time.Now()
		statusCode, err := f.fetchOnce(ctx, url, cw)
		res.Elapsed += time.Since(start)
		if statusCode != 0 {
			res.StatusCode = statusCode
		}
		return err
	})
	res.Bytes = cw.n
	if err != nil {
		logger.Error("download failed", log.Error(err), log.Int64("received", res.Bytes), log.Int("attempts", res.Attempts))
		return res, fmt.Errorf("fetch %s: %w", url, err)
	}
	logger.Info("download finished", log.Int64("received", res.Bytes), log.Int("attempts", res.Attempts),
		log.DurationIn(res.Elapsed, time.Millisecond), log.Float64("bits_per_second", res.BitsPerSecond()))
	return res, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, cw *countingWriter) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resuming := f.Resume && cw.n > 0
	if resuming {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", cw.n))
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusPartialContent && resuming:
		f.Logger.Debug("resuming download", log.String("url", url), log.Int64("offset", cw.n))
	case resp.StatusCode == http.StatusOK:
		if cw.n > 0 {
			if err = cw.rewind(); err != nil {
				return resp.StatusCode, err
			}
		}
	default:
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode}
	}

	_, err = io.Copy(cw, resp.Body)
	return resp.StatusCode, err
}

type truncater interface {
	Truncate(size int64) error
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) rewind() error {
	t, ok := cw.w.(truncater)
	if !ok {
		return ErrCannotRewind
	}
	s, ok := cw.w.(io.Seeker)
	if !ok {
		return ErrCannotRewind
	}
	if err := t.Truncate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrCannotRewind, err)
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrCannotRewind, err)
	}
	cw.n = 0
	return nil
}
