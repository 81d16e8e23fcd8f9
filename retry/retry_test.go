/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoWithRetry(t *testing.T) {
	t.Run("succeeds after transient errors", func(t *testing.T) {
		calls := 0
		var notified []error
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil,
			func(err error, _ time.Duration) { notified = append(notified, err) },
			func(ctx context.Context) error {
				calls++
				if calls < 3 {
					return errTransient
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
		require.Equal(t, []error{errTransient, errTransient}, notified)
	})

	t.Run("stops after max attempts", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewExponentialBackoffPolicy(time.Millisecond, 2), nil, nil,
			func(ctx context.Context) error {
				calls++
				return errTransient
			})
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 3, calls)
	})

	t.Run("permanent error", func(t *testing.T) {
		errPermanent := errors.New("permanent")
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5),
			func(err error) bool { return errors.Is(err, errTransient) }, nil,
			func(ctx context.Context) error {
				calls++
				return errPermanent
			})
		require.ErrorIs(t, err, errPermanent)
		require.Equal(t, 1, calls)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := DoWithRetry(ctx, NewConstantBackoffPolicy(time.Hour, 0), nil, nil,
			func(ctx context.Context) error {
				calls++
				cancel()
				return errTransient
			})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestExponentialBackoffPolicy(t *testing.T) {
	p := ExponentialBackoffPolicy{InitialInterval: 100 * time.Millisecond, Multiplier: 3, MaxAttempts: 2}
	bf := p.NewBackOff()
	first := bf.NextBackOff()
	require.InDelta(t, float64(100*time.Millisecond), float64(first), float64(60*time.Millisecond))
	require.NotEqual(t, backoff.Stop, bf.NextBackOff())
	require.Equal(t, backoff.Stop, bf.NextBackOff())
}

func TestPolicyFunc(t *testing.T) {
	p := PolicyFunc(func() backoff.BackOff { return &backoff.StopBackOff{} })
	require.Equal(t, backoff.Stop, p.NewBackOff().NextBackOff())
}
