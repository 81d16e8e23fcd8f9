/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const modemBitsPerSecond = 56000

func mustNewController(t *testing.T, targetBitsPerSecond, dampingFactor float64) *Controller {
	t.Helper()
	c, err := NewControllerWithOpts(targetBitsPerSecond, ControllerOpts{DampingFactor: dampingFactor})
	require.NoError(t, err)
	return c
}

func TestNewController(t *testing.T) {
	tests := []struct {
		name          string
		target        float64
		dampingFactor float64
		wantDamping   float64
		wantErrMsg    string
	}{
		{name: "default damping factor", target: modemBitsPerSecond, wantDamping: DefaultDampingFactor},
		{name: "full correction", target: modemBitsPerSecond, dampingFactor: 1, wantDamping: 1},
		{name: "small damping factor", target: 1, dampingFactor: 0.01, wantDamping: 0.01},
		{
			name:       "zero target",
			target:     0,
			wantErrMsg: "invalid bandwidth configuration: target bandwidth must be positive and finite, got 0",
		},
		{
			name:       "negative target",
			target:     -56000,
			wantErrMsg: "invalid bandwidth configuration: target bandwidth must be positive and finite, got -56000",
		},
		{
			name:       "NaN target",
			target:     math.NaN(),
			wantErrMsg: "invalid bandwidth configuration: target bandwidth must be positive and finite, got NaN",
		},
		{
			name:       "infinite target",
			target:     math.Inf(1),
			wantErrMsg: "invalid bandwidth configuration: target bandwidth must be positive and finite, got +Inf",
		},
		{
			name:          "negative damping factor",
			target:        modemBitsPerSecond,
			dampingFactor: -0.5,
			wantErrMsg:    "invalid bandwidth configuration: damping factor must be in range (0..1], got -0.5",
		},
		{
			name:          "too big damping factor",
			target:        modemBitsPerSecond,
			dampingFactor: 1.5,
			wantErrMsg:    "invalid bandwidth configuration: damping factor must be in range (0..1], got 1.5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewControllerWithOpts(tt.target, ControllerOpts{DampingFactor: tt.dampingFactor})
			if tt.wantErrMsg != "" {
				require.ErrorIs(t, err, ErrInvalidConfiguration)
				require.EqualError(t, err, tt.wantErrMsg)
				require.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.target, c.TargetBitsPerSecond())
			require.Equal(t, tt.wantDamping, c.DampingFactor())
		})
	}
}

func TestController_ComputeDelay_SlowerThanTarget(t *testing.T) {
	c := mustNewController(t, modemBitsPerSecond, 0.67)

	require.Equal(t, float64(0), c.ComputeDelay(100, 0))
	require.Equal(t, int64(100), c.lastUpdateMillis)
	require.Equal(t, int64(0), c.lastCumulativeBytes)

	// 100 bytes in 110 ms is much slower than 56 kbps, the delay is clamped to 0.
	require.Equal(t, float64(0), c.ComputeDelay(210, 100))
	require.Equal(t, int64(210), c.lastUpdateMillis)
	require.Equal(t, int64(100), c.lastCumulativeBytes)
}

func TestController_ComputeDelay_FasterThanTarget(t *testing.T) {
	c := mustNewController(t, modemBitsPerSecond, 0.67)

	require.Equal(t, float64(0), c.ComputeDelay(0, 0))

	// 10000 bytes at 56 kbps should take ~1428.6 ms, only 1 ms has elapsed.
	wantDelay := (10000.0*8*1000/modemBitsPerSecond - 1) * 0.67
	require.InDelta(t, 956.5, c.ComputeDelay(1, 10000), 0.1)
	require.InDelta(t, wantDelay, c.sleepMillis, 1e-9)
}

func TestController_ComputeDelay_ZeroBytesOnlySetsBaseline(t *testing.T) {
	c := mustNewController(t, modemBitsPerSecond, 1)

	require.Equal(t, float64(0), c.ComputeDelay(0, 0))
	require.Equal(t, float64(0), c.ComputeDelay(500, 0))
	require.Equal(t, int64(500), c.lastUpdateMillis)

	// Elapsed time is measured from the last zero-bytes call.
	require.InDelta(t, 10000.0*8*1000/modemBitsPerSecond-10, c.ComputeDelay(510, 10000), 1e-9)

	// Reporting 0 cumulative bytes again skips the correction and keeps the current delay.
	delay := c.sleepMillis
	require.Equal(t, delay, c.ComputeDelay(10000, 0))
	require.Equal(t, int64(0), c.lastCumulativeBytes)
}

func TestController_ComputeDelay_Regression(t *testing.T) {
	c := mustNewController(t, modemBitsPerSecond, 1)
	c.ComputeDelay(0, 0)
	delay := c.ComputeDelay(10, 10000)
	require.Greater(t, delay, float64(0))

	// Time goes backwards: no correction, new baseline.
	require.Equal(t, delay, c.ComputeDelay(5, 20000))
	require.Equal(t, int64(5), c.lastUpdateMillis)
	require.Equal(t, int64(20000), c.lastCumulativeBytes)

	// Bytes go backwards: no correction, new baseline.
	require.Equal(t, delay, c.ComputeDelay(20, 15000))
	require.Equal(t, int64(15000), c.lastCumulativeBytes)
}

func TestController_ComputeDelay_ConvergesInClosedLoop(t *testing.T) {
	const (
		target     = 8000 // 100 bytes should take exactly 100 ms
		chunkBytes = 100
		workMillis = 20 // time needed to transfer a chunk without pauses
	)
	const fixedPoint = 100 - workMillis

	for _, dampingFactor := range []float64{0.1, 0.5, DefaultDampingFactor, 1} {
		c := mustNewController(t, target, dampingFactor)
		var now, position int64
		var delay float64
		prevErr := math.Inf(1)
		c.ComputeDelay(now, position)
		for i := 0; i < 200; i++ {
			now += workMillis + int64(math.Round(delay))
			position += chunkBytes
			delay = c.ComputeDelay(now, position)

			curErr := math.Abs(fixedPoint - delay)
			if curErr > 1 {
				require.Less(t, curErr, prevErr, "error must shrink on every step (damping factor %v)", dampingFactor)
			}
			prevErr = curErr
		}
		require.InDelta(t, fixedPoint, delay, 1, "damping factor %v", dampingFactor)
		require.GreaterOrEqual(t, delay, float64(0))
	}
}

func TestController_ComputeDelay_FullCorrectionReachesFixedPointAtOnce(t *testing.T) {
	c := mustNewController(t, 8000, 1)
	c.ComputeDelay(0, 0)
	require.Equal(t, float64(80), c.ComputeDelay(20, 100))
	require.Equal(t, float64(80), c.ComputeDelay(120, 200))
	require.Equal(t, float64(80), c.ComputeDelay(220, 300))
}

func TestController_ComputeDelay_OpenLoop(t *testing.T) {
	t.Run("far slower than target stays at zero", func(t *testing.T) {
		c := mustNewController(t, modemBitsPerSecond, DefaultDampingFactor)
		c.ComputeDelay(0, 0)
		for i := int64(1); i <= 100; i++ {
			require.Equal(t, float64(0), c.ComputeDelay(i*1000, i*10))
		}
	})

	t.Run("far faster than target grows without an upper cap", func(t *testing.T) {
		c := mustNewController(t, 8000, 0.5)
		c.ComputeDelay(0, 0)
		// 1000 bytes per ms while 1000 bytes should take 1000 ms: the error is 999 ms on every step.
		for i := int64(1); i <= 100; i++ {
			require.InDelta(t, float64(i)*999*0.5, c.ComputeDelay(i, i*1000), 1e-6)
		}
	})
}

func TestController_ComputeDelay_NeverNegative(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		c := mustNewController(t, float64(1+rnd.Intn(10_000_000)), 0.01+rnd.Float64()*0.99)
		var now, position int64
		for i := 0; i < 500; i++ {
			now += int64(rnd.Intn(1000))
			if rnd.Intn(10) > 0 {
				position += int64(rnd.Intn(100_000))
			}
			require.GreaterOrEqual(t, c.ComputeDelay(now, position), float64(0))
		}
	}
}

func TestController_ComputeDelay_Deterministic(t *testing.T) {
	c1 := mustNewController(t, modemBitsPerSecond, 0.67)
	c2 := mustNewController(t, modemBitsPerSecond, 0.67)
	rnd := rand.New(rand.NewSource(7))
	var now, position int64
	for i := 0; i < 1000; i++ {
		now += int64(rnd.Intn(50))
		position += int64(rnd.Intn(1000))
		require.Equal(t, c1.ComputeDelay(now, position), c2.ComputeDelay(now, position))
	}
}

func TestMillisecondsToDuration(t *testing.T) {
	require.Equal(t, time.Duration(0), MillisecondsToDuration(0))
	require.Equal(t, time.Duration(0), MillisecondsToDuration(-5))
	require.Equal(t, 956*time.Millisecond+500*time.Microsecond, MillisecondsToDuration(956.5))
	require.Equal(t, time.Duration(0), MillisecondsToDuration(math.NaN()))

	// A delay that kept growing under a too fast transfer doesn't overflow into a negative duration.
	require.Equal(t, time.Duration(math.MaxInt64), MillisecondsToDuration(float64(math.MaxInt64)))
	require.Equal(t, time.Duration(math.MaxInt64), MillisecondsToDuration(math.MaxFloat64))
	require.Equal(t, time.Duration(math.MaxInt64), MillisecondsToDuration(math.Inf(1)))
}
