/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultDampingFactor is the fraction of the observed error applied on each update
// when no other value is configured.
const DefaultDampingFactor = 2.0 / 3

// ErrInvalidConfiguration is returned (wrapped) when a controller
// cannot be created with the given parameters.
var ErrInvalidConfiguration = errors.New("invalid bandwidth configuration")

// ControllerOpts represents options for Controller.
type ControllerOpts struct {
	// DampingFactor must be in (0, 1]. Zero means DefaultDampingFactor.
	DampingFactor float64
}

// Controller computes the delay that should be inserted before the next chunk of data
// so that the average throughput converges to the target bandwidth.
type Controller struct {
	targetBitsPerSecond float64
	dampingFactor       float64

	sleepMillis         float64
	lastUpdateMillis    int64
	lastCumulativeBytes int64
}

// NewController creates a new Controller with the given target bandwidth (in bits per second)
// and the default damping factor.
func NewController(targetBitsPerSecond float64) (*Controller, error) {
	return NewControllerWithOpts(targetBitsPerSecond, ControllerOpts{})
}

// NewControllerWithOpts creates a new Controller with the given target bandwidth (in bits per second) and options.
func NewControllerWithOpts(targetBitsPerSecond float64, opts ControllerOpts) (*Controller, error) {
	if err := validateTargetBandwidth(targetBitsPerSecond); err != nil {
		return nil, err
	}
	dampingFactor := opts.DampingFactor
	if dampingFactor == 0 {
		dampingFactor = DefaultDampingFactor
	}
	if err := validateDampingFactor(dampingFactor); err != nil {
		return nil, err
	}
	return &Controller{targetBitsPerSecond: targetBitsPerSecond, dampingFactor: dampingFactor}, nil
}

// TargetBitsPerSecond returns the configured target bandwidth.
func (c *Controller) TargetBitsPerSecond() float64 {
	return c.targetBitsPerSecond
}

// DampingFactor returns the configured damping factor.
func (c *Controller) DampingFactor() float64 {
	return c.dampingFactor
}

// ComputeDelay returns the delay in milliseconds that the caller should wait before
// transferring the next chunk of data.
//
// nowMillis is a timestamp in milliseconds since an arbitrary epoch, cumulativeBytes is the total number
// of bytes transferred on the connection so far. Both must not decrease between calls.
// If cumulativeBytes is 0, no correction is made and only the baseline is recorded.
// If either value goes backwards, the correction is skipped as well and the new values become the baseline.
func (c *Controller) ComputeDelay(nowMillis, cumulativeBytes int64) float64 {
	if cumulativeBytes != 0 && nowMillis >= c.lastUpdateMillis && cumulativeBytes >= c.lastCumulativeBytes {
		elapsedMillis := float64(nowMillis - c.lastUpdateMillis)
		bytesDelta := float64(cumulativeBytes - c.lastCumulativeBytes)
		idealElapsedMillis := bytesDelta * 8 * 1000 / c.targetBitsPerSecond

		c.sleepMillis += (idealElapsedMillis - elapsedMillis) * c.dampingFactor
		if c.sleepMillis < 0 {
			c.sleepMillis = 0
		}
	}

	c.lastCumulativeBytes = cumulativeBytes
	c.lastUpdateMillis = nowMillis

	return c.sleepMillis
}

// MillisecondsToDuration converts a delay returned by Controller.ComputeDelay to time.Duration.
// The delay is not bounded, so values beyond the time.Duration range saturate at the maximum duration.
func MillisecondsToDuration(ms float64) time.Duration {
	if !(ms > 0) {
		return 0
	}
	ns := ms * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

func validateTargetBandwidth(targetBitsPerSecond float64) error {
	if !(targetBitsPerSecond > 0) || math.IsInf(targetBitsPerSecond, 1) {
		return fmt.Errorf("%w: target bandwidth must be positive and finite, got %v",
			ErrInvalidConfiguration, targetBitsPerSecond)
	}
	return nil
}

func validateDampingFactor(dampingFactor float64) error {
	if !(dampingFactor > 0 && dampingFactor <= 1) {
		return fmt.Errorf("%w: damping factor must be in range (0..1], got %v",
			ErrInvalidConfiguration, dampingFactor)
	}
	return nil
}
