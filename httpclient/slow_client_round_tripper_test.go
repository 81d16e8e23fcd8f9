/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-slowclient/bandwidth"
	"github.com/acronis/go-slowclient/log/logtest"
)

// testSleeper is a bandwidth.Sleeper whose clock moves only when it sleeps.
// Request bodies are read by the transport in its own goroutine, so it's guarded by mutex.
type testSleeper struct {
	mu        sync.Mutex
	nowMillis int64
	sleeps    []time.Duration
}

func (s *testSleeper) Milliseconds() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowMillis
}

func (s *testSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	s.nowMillis += d.Milliseconds()
	return nil
}

func (s *testSleeper) TotalSlept() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.sleeps {
		total += d
	}
	return total
}

// newTestLimiterFactory returns a factory for 1000 bytes per second limiters that fully correct the error,
// so with testSleeper the pause before every chunk equals the size of the previous chunk in milliseconds.
func newTestLimiterFactory(t *testing.T, sleeper bandwidth.Sleeper, opts bandwidth.LimiterOpts) *bandwidth.LimiterFactory {
	opts.DampingFactor = 1
	opts.BufferIncrement = 100
	opts.Sleeper = sleeper
	factory, err := bandwidth.NewLimiterFactory(8000, opts)
	require.NoError(t, err)
	return factory
}

func TestSlowClientRoundTripper_Download(t *testing.T) {
	payload := bytes.Repeat([]byte("d"), 1000)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write(payload)
	}))
	defer server.Close()

	sleeper := &testSleeper{}
	rt := NewSlowClientRoundTripper(http.DefaultTransport, newTestLimiterFactory(t, sleeper, bandwidth.LimiterOpts{}))
	client := &http.Client{Transport: rt}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// 1000 bytes at 1000 bytes/s: the pause after the last chunk may be skipped if EOF comes with data.
	total := sleeper.TotalSlept()
	require.GreaterOrEqual(t, total, 900*time.Millisecond)
	require.LessOrEqual(t, total, time.Second)
	for _, d := range sleeper.sleeps {
		require.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestSlowClientRoundTripper_Upload(t *testing.T) {
	payload := bytes.Repeat([]byte("u"), 500)
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = rw.Write([]byte(strconv.Itoa(len(received))))
	}))
	defer server.Close()

	sleeper := &testSleeper{}
	rt, err := NewSlowClientRoundTripperWithOpts(http.DefaultTransport,
		newTestLimiterFactory(t, sleeper, bandwidth.LimiterOpts{}), SlowClientRoundTripperOpts{Direction: DirectionUpload})
	require.NoError(t, err)
	client := &http.Client{Transport: rt}

	resp, err := client.Post(server.URL, "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "500", string(respBody))
	require.Equal(t, payload, received)

	total := sleeper.TotalSlept()
	require.GreaterOrEqual(t, total, 400*time.Millisecond)
	require.LessOrEqual(t, total, 500*time.Millisecond)
}

func TestSlowClientRoundTripper_DirectionFiltersBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(rw, r.Body)
	}))
	defer server.Close()

	sleeper := &testSleeper{}
	rt, err := NewSlowClientRoundTripperWithOpts(http.DefaultTransport,
		newTestLimiterFactory(t, sleeper, bandwidth.LimiterOpts{}), SlowClientRoundTripperOpts{Direction: DirectionUpload})
	require.NoError(t, err)

	// Response body is not paced in upload mode, so the time slept covers only the request body.
	resp, err := (&http.Client{Transport: rt}).Post(server.URL, "text/plain", bytes.NewReader(make([]byte, 300)))
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.LessOrEqual(t, sleeper.TotalSlept(), 300*time.Millisecond)
}

func TestSlowClientRoundTripper_ConnIDFromRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write(make([]byte, 250))
	}))
	defer server.Close()

	logRecorder := logtest.NewRecorder()
	rt := NewSlowClientRoundTripper(http.DefaultTransport,
		newTestLimiterFactory(t, &testSleeper{}, bandwidth.LimiterOpts{Logger: logRecorder}))

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	entry, found := logRecorder.FindEntry("slow client pause")
	require.True(t, found)
	connID, found := entry.StringField("conn_id")
	require.True(t, found)
	require.Equal(t, "req-42-download", connID)
}

func TestSlowClientRoundTripper_PacingInterrupted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write(make([]byte, 1000))
	}))
	defer server.Close()

	rt := NewSlowClientRoundTripper(http.DefaultTransport, newTestLimiterFactory(t, &testSleeper{}, bandwidth.LimiterOpts{}))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	cancel()
	_, err = resp.Body.Read(make([]byte, 100))
	var pacingErr *PacingError
	require.True(t, errors.As(err, &pacingErr))
	require.Equal(t, DirectionDownload, pacingErr.Direction)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualError(t, err, "slow client download pacing interrupted: context canceled")
}

func TestNewSlowClientRoundTripperWithOpts(t *testing.T) {
	factory := newTestLimiterFactory(t, &testSleeper{}, bandwidth.LimiterOpts{})

	rt, err := NewSlowClientRoundTripperWithOpts(http.DefaultTransport, factory, SlowClientRoundTripperOpts{})
	require.NoError(t, err)
	require.Equal(t, DirectionDownload, rt.Direction)

	_, err = NewSlowClientRoundTripperWithOpts(http.DefaultTransport, factory, SlowClientRoundTripperOpts{Direction: "sideways"})
	require.EqualError(t, err, `unknown slow client direction "sideways"`)

	_, err = NewSlowClientRoundTripperWithOpts(http.DefaultTransport, nil, SlowClientRoundTripperOpts{})
	require.Error(t, err)
}
