/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package bandwidth provides pacing primitives for simulating slow network clients.
//
// The heart of the package is Controller, a damped proportional feedback loop.
// On every chunk boundary it is given the current time and the number of bytes
// transferred so far on the connection, and it answers how long the caller should
// pause before sending (or reading) the next chunk so that the long-run throughput
// converges to the target bit rate.
//
// Controller never sleeps by itself. Limiter couples it with a Sleeper and a fixed
// buffer increment, and Reader, Writer and Conn wrap io.Reader, io.Writer and net.Conn
// so that data flowing through them is paced automatically.
//
// One Controller (and so one Limiter) must be used per connection and per direction.
// They hold mutable state and are not safe for concurrent use.
package bandwidth
