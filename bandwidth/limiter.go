/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-slowclient/log"
)

// DefaultBufferIncrement is the number of bytes a limiter allows to transfer between two pauses.
// It splits an average HTTP message into a few chunks without adding much work per chunk.
const DefaultBufferIncrement = 100

// Sleeper provides the current time and the ability to pause.
type Sleeper interface {
	// Milliseconds returns the current time in milliseconds since an arbitrary epoch.
	// Returned values must never decrease.
	Milliseconds() int64
	// Sleep pauses for the given duration or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemSleeper is a Sleeper that uses the monotonic system clock.
type SystemSleeper struct {
	start time.Time
}

// NewSystemSleeper creates a new SystemSleeper. Its epoch is the moment of creation.
func NewSystemSleeper() *SystemSleeper {
	return &SystemSleeper{start: time.Now()}
}

// Milliseconds returns the number of milliseconds elapsed since the sleeper was created.
func (s *SystemSleeper) Milliseconds() int64 {
	return time.Since(s.start).Milliseconds()
}

// Sleep pauses the current goroutine for at least the duration d or until ctx is done.
func (s *SystemSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LimiterOpts represents options for Limiter and LimiterFactory.
type LimiterOpts struct {
	// DampingFactor must be in (0, 1]. Zero means DefaultDampingFactor.
	DampingFactor float64

	// BufferIncrement is the number of bytes allowed between pauses. Zero means DefaultBufferIncrement.
	BufferIncrement int

	// Sleeper is used for getting time and pausing. NewSystemSleeper() is used by default.
	Sleeper Sleeper

	// MetricsCollector receives delays and transferred bytes. Metrics are not collected if nil.
	MetricsCollector MetricsCollector

	// Logger is used for logging computed delays at debug level. Logging is disabled if nil.
	Logger log.FieldLogger
}

func (opts LimiterOpts) withDefaults() (LimiterOpts, error) {
	if opts.BufferIncrement < 0 {
		return opts, fmt.Errorf("%w: buffer increment must be positive, got %d",
			ErrInvalidConfiguration, opts.BufferIncrement)
	}
	if opts.BufferIncrement == 0 {
		opts.BufferIncrement = DefaultBufferIncrement
	}
	if opts.Sleeper == nil {
		opts.Sleeper = NewSystemSleeper()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return opts, nil
}

// Limiter restricts the bandwidth of a single connection direction by sleeping
// between chunks of BufferIncrement bytes.
type Limiter struct {
	controller      *Controller
	sleeper         Sleeper
	bufferIncrement int
	metrics         MetricsCollector
	logger          log.FieldLogger
	lastPosition    int64
}

// NewLimiter creates a new Limiter with the given target bandwidth (in bits per second) and default options.
func NewLimiter(targetBitsPerSecond float64) (*Limiter, error) {
	return NewLimiterWithOpts(targetBitsPerSecond, LimiterOpts{})
}

// NewLimiterWithOpts creates a new Limiter with the given target bandwidth (in bits per second) and options.
func NewLimiterWithOpts(targetBitsPerSecond float64, opts LimiterOpts) (*Limiter, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	controller, err := NewControllerWithOpts(targetBitsPerSecond, ControllerOpts{DampingFactor: opts.DampingFactor})
	if err != nil {
		return nil, err
	}
	return newLimiter(controller, opts), nil
}

func newLimiter(controller *Controller, opts LimiterOpts) *Limiter {
	return &Limiter{
		controller:      controller,
		sleeper:         opts.Sleeper,
		bufferIncrement: opts.BufferIncrement,
		metrics:         opts.MetricsCollector,
		logger:          opts.Logger,
	}
}

// MaximumBytes is called on every chunk boundary with the number of bytes transferred so far (position).
// It sleeps for the delay recommended by the controller and returns how many bytes may be transferred next.
// An error is returned only if ctx is done while sleeping.
func (l *Limiter) MaximumBytes(ctx context.Context, position int64) (int, error) {
	if position > l.lastPosition {
		l.metrics.AddTransferredBytes(position - l.lastPosition)
	}
	l.lastPosition = position

	delay := MillisecondsToDuration(l.controller.ComputeDelay(l.sleeper.Milliseconds(), position))
	l.metrics.ObserveDelay(delay)
	l.logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
		logFunc("slow client pause", log.Int64("position", position), log.DurationIn(delay, time.Millisecond))
	})

	if err := l.sleeper.Sleep(ctx, delay); err != nil {
		return 0, err
	}
	return l.bufferIncrement, nil
}

// BufferIncrement returns the number of bytes allowed between two pauses.
func (l *Limiter) BufferIncrement() int {
	return l.bufferIncrement
}

// LimiterFactory creates independent limiters with the same configuration, one per connection.
type LimiterFactory struct {
	targetBitsPerSecond float64
	opts                LimiterOpts
}

// NewLimiterFactory creates a new LimiterFactory.
// The configuration is validated here, so Create never fails.
func NewLimiterFactory(targetBitsPerSecond float64, opts LimiterOpts) (*LimiterFactory, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if _, err = NewControllerWithOpts(targetBitsPerSecond, ControllerOpts{DampingFactor: opts.DampingFactor}); err != nil {
		return nil, err
	}
	return &LimiterFactory{targetBitsPerSecond: targetBitsPerSecond, opts: opts}, nil
}

// NewLimiterFactoryFromConfig creates a new LimiterFactory using the parameters from Config.
// Fields of opts that are also present in Config are overridden.
func NewLimiterFactoryFromConfig(cfg *Config, opts LimiterOpts) (*LimiterFactory, error) {
	opts.DampingFactor = cfg.DampingFactor
	opts.BufferIncrement = int(cfg.BufferIncrement)
	return NewLimiterFactory(cfg.TargetBandwidth, opts)
}

// Create returns a new Limiter with its own state.
// Each limiter gets a unique connection id which is added to its log messages.
func (f *LimiterFactory) Create() *Limiter {
	return f.CreateWithID(xid.New().String())
}

// CreateWithID returns a new Limiter with its own state and the given connection id.
func (f *LimiterFactory) CreateWithID(connID string) *Limiter {
	controller := &Controller{
		targetBitsPerSecond: f.targetBitsPerSecond,
		dampingFactor:       f.opts.DampingFactor,
	}
	if controller.dampingFactor == 0 {
		controller.dampingFactor = DefaultDampingFactor
	}
	opts := f.opts
	opts.Logger = opts.Logger.With(log.String("conn_id", connID))
	return newLimiter(controller, opts)
}

// TargetBitsPerSecond returns the target bandwidth of created limiters.
func (f *LimiterFactory) TargetBitsPerSecond() float64 {
	return f.targetBitsPerSecond
}
