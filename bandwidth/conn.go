/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"context"
	"net"

	"go.uber.org/atomic"
)

// Conn wraps net.Conn and paces both directions with independent limiters.
// Read and Write may be called from different goroutines, as with any net.Conn,
// but each of them must not be called concurrently with itself.
type Conn struct {
	net.Conn

	reader *Reader
	writer *Writer

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// NewConn creates a new Conn. Limiters for reads and writes are created by the factory.
// Pauses are interrupted when ctx is done.
func NewConn(ctx context.Context, conn net.Conn, factory *LimiterFactory) *Conn {
	return &Conn{
		Conn:   conn,
		reader: NewReader(ctx, conn, factory.Create()),
		writer: NewWriter(ctx, conn, factory.Create()),
	}
}

// Read reads data from the connection with pacing.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.reader.Read(b)
	c.bytesRead.Add(int64(n))
	return n, err
}

// Write writes data to the connection with pacing.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.writer.Write(b)
	c.bytesWritten.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read from the connection.
func (c *Conn) BytesRead() int64 {
	return c.bytesRead.Load()
}

// BytesWritten returns the number of bytes written to the connection.
func (c *Conn) BytesWritten() int64 {
	return c.bytesWritten.Load()
}

// Dialer dials connections that are paced by limiters from Factory.
type Dialer struct {
	Dialer  *net.Dialer
	Factory *LimiterFactory
}

// DialContext connects to the address on the named network and wraps the connection in Conn.
// ctx is used only for dialing, pauses of the returned connection are not bound to it.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewConn(context.Background(), conn, d.Factory), nil
}
