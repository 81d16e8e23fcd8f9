/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/xid"

	"github.com/acronis/go-slowclient/bandwidth"
)

// Direction determines which part of an HTTP exchange is paced.
type Direction string

// Pacing directions.
const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
	DirectionBoth     Direction = "both"
)

// IsValid checks if the direction is valid.
func (d Direction) IsValid() bool {
	switch d {
	case DirectionDownload, DirectionUpload, DirectionBoth:
		return true
	}
	return false
}

func (d Direction) pacesDownload() bool {
	return d == DirectionDownload || d == DirectionBoth
}

func (d Direction) pacesUpload() bool {
	return d == DirectionUpload || d == DirectionBoth
}

// SlowClientRoundTripper implements http.RoundTripper and makes the client behave like one
// connected through a slow network. Request bodies (upload) and response bodies (download)
// are read through bandwidth limiters, so data moves with the configured bit rate.
// Every body gets its own limiter.
type SlowClientRoundTripper struct {
	// Delegate is the next RoundTripper in the chain.
	Delegate http.RoundTripper

	// Factory creates a limiter for every paced body.
	Factory *bandwidth.LimiterFactory

	// Direction determines which bodies are paced.
	Direction Direction
}

// SlowClientRoundTripperOpts represents an options for SlowClientRoundTripper.
type SlowClientRoundTripperOpts struct {
	// Direction determines which bodies are paced. DirectionDownload is used by default.
	Direction Direction
}

// NewSlowClientRoundTripper creates a new SlowClientRoundTripper that paces downloads.
func NewSlowClientRoundTripper(delegate http.RoundTripper, factory *bandwidth.LimiterFactory) *SlowClientRoundTripper {
	return &SlowClientRoundTripper{Delegate: delegate, Factory: factory, Direction: DirectionDownload}
}

// NewSlowClientRoundTripperWithOpts creates a new SlowClientRoundTripper with specified options.
func NewSlowClientRoundTripperWithOpts(
	delegate http.RoundTripper, factory *bandwidth.LimiterFactory, opts SlowClientRoundTripperOpts,
) (*SlowClientRoundTripper, error) {
	if factory == nil {
		return nil, fmt.Errorf("limiter factory must be specified")
	}
	if opts.Direction == "" {
		opts.Direction = DirectionDownload
	}
	if !opts.Direction.IsValid() {
		return nil, fmt.Errorf("unknown slow client direction %q", opts.Direction)
	}
	return &SlowClientRoundTripper{Delegate: delegate, Factory: factory, Direction: opts.Direction}, nil
}

// RoundTrip executes a single HTTP transaction with paced bodies.
func (rt *SlowClientRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	connID := req.Header.Get(RequestIDHeader)
	if connID == "" {
		connID = xid.New().String()
	}

	if rt.Direction.pacesUpload() && req.Body != nil && req.Body != http.NoBody {
		req = req.Clone(ctx) // Per RoundTripper contract.
		req.Body = rt.newPacedBody(ctx, req.Body, DirectionUpload, connID)
		if getBody := req.GetBody; getBody != nil {
			req.GetBody = func() (io.ReadCloser, error) {
				body, err := getBody()
				if err != nil {
					return nil, err
				}
				return rt.newPacedBody(ctx, body, DirectionUpload, connID), nil
			}
		}
	}

	resp, err := rt.Delegate.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if rt.Direction.pacesDownload() && resp.Body != nil && resp.Body != http.NoBody {
		resp.Body = rt.newPacedBody(ctx, resp.Body, DirectionDownload, connID)
	}
	return resp, nil
}

func (rt *SlowClientRoundTripper) newPacedBody(
	ctx context.Context, body io.ReadCloser, direction Direction, connID string,
) *pacedBody {
	limiter := rt.Factory.CreateWithID(connID + "-" + string(direction))
	return &pacedBody{
		ctx:       ctx,
		reader:    bandwidth.NewReader(ctx, body, limiter),
		closer:    body,
		direction: direction,
	}
}

type pacedBody struct {
	ctx       context.Context
	reader    *bandwidth.Reader
	closer    io.Closer
	direction Direction
}

func (b *pacedBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err != nil && n == 0 && b.ctx.Err() != nil && errors.Is(err, b.ctx.Err()) {
		return 0, &PacingError{Direction: b.direction, Inner: err}
	}
	return n, err
}

func (b *pacedBody) Close() error {
	return b.closer.Close()
}

// PacingError is returned from reading a paced body when a pause is interrupted
// because the request context is done.
type PacingError struct {
	Direction Direction
	Inner     error
}

func (e *PacingError) Error() string {
	return fmt.Sprintf("slow client %s pacing interrupted: %s", e.Direction, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *PacingError) Unwrap() error {
	return e.Inner
}
