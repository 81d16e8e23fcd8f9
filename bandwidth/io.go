/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"context"
	"io"
)

// Reader wraps io.Reader and paces reads with Limiter.
// Before every read it asks the limiter how many bytes may be read and sleeps if needed,
// so a single Read call never returns more than Limiter.BufferIncrement bytes.
// The read that reaches EOF still waits for the last chunk, reads after EOF don't wait.
type Reader struct {
	ctx      context.Context
	reader   io.Reader
	limiter  *Limiter
	position int64
	eof      bool
}

// NewReader creates a new Reader. Pauses are interrupted when ctx is done.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) *Reader {
	return &Reader{ctx: ctx, reader: r, limiter: limiter}
}

// Read reads up to len(p) bytes (but not more than allowed by the limiter) into p.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 || r.eof {
		return r.reader.Read(p)
	}
	allowed, err := r.limiter.MaximumBytes(r.ctx, r.position)
	if err != nil {
		return 0, err
	}
	if allowed < len(p) {
		p = p[:allowed]
	}
	n, err := r.reader.Read(p)
	r.position += int64(n)
	if err == io.EOF {
		r.eof = true
	}
	return n, err
}

// Position returns the number of bytes read so far.
func (r *Reader) Position() int64 {
	return r.position
}

// Writer wraps io.Writer and paces writes with Limiter.
// Every Write is split into chunks of at most Limiter.BufferIncrement bytes with pauses between them.
type Writer struct {
	ctx      context.Context
	writer   io.Writer
	limiter  *Limiter
	position int64
}

// NewWriter creates a new Writer. Pauses are interrupted when ctx is done.
func NewWriter(ctx context.Context, w io.Writer, limiter *Limiter) *Writer {
	return &Writer{ctx: ctx, writer: w, limiter: limiter}
}

// Write writes len(p) bytes from p to the underlying writer chunk by chunk.
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		allowed, err := w.limiter.MaximumBytes(w.ctx, w.position)
		if err != nil {
			return written, err
		}
		chunk := p[written:]
		if allowed < len(chunk) {
			chunk = chunk[:allowed]
		}
		n, err := w.writer.Write(chunk)
		written += n
		w.position += int64(n)
		if err != nil {
			return written, err
		}
		if n < len(chunk) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Position returns the number of bytes written so far.
func (w *Writer) Position() int64 {
	return w.position
}
