/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestRequestIDRoundTripper(t *testing.T) {
	var gotRequestID atomic.String
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotRequestID.Store(r.Header.Get(RequestIDHeader))
	}))
	defer server.Close()

	doRequest := func(ctx context.Context, t *testing.T, rt http.RoundTripper, header string) {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set(RequestIDHeader, header)
		}
		resp, err := (&http.Client{Transport: rt}).Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, header, req.Header.Get(RequestIDHeader), "original request must not be modified")
	}

	rt := NewRequestIDRoundTripper(http.DefaultTransport)

	t.Run("from context", func(t *testing.T) {
		doRequest(NewContextWithRequestID(context.Background(), "ctx-request-id"), t, rt, "")
		require.Equal(t, "ctx-request-id", gotRequestID.Load())
	})

	t.Run("generated", func(t *testing.T) {
		doRequest(context.Background(), t, rt, "")
		require.Len(t, gotRequestID.Load(), 20)
	})

	t.Run("header is kept", func(t *testing.T) {
		doRequest(NewContextWithRequestID(context.Background(), "ctx-request-id"), t, rt, "header-request-id")
		require.Equal(t, "header-request-id", gotRequestID.Load())
	})

	t.Run("custom provider", func(t *testing.T) {
		customRT := NewRequestIDRoundTripperWithOpts(http.DefaultTransport, RequestIDRoundTripperOpts{
			RequestIDProvider: func(ctx context.Context) string { return "custom" },
		})
		doRequest(context.Background(), t, customRT, "")
		require.Equal(t, "custom", gotRequestID.Load())
	})
}
