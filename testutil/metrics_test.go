/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type mockT struct {
	failed bool
	format string
}

func (t *mockT) FailNow() {
	t.failed = true
}

func (t *mockT) Errorf(format string, _ ...interface{}) {
	t.format = format
}

func TestAssertSamplesCountInHistogram(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "delay_seconds"})
	hist.Observe(0.1)
	hist.Observe(0.2)

	require.True(t, AssertSamplesCountInHistogram(t, hist, 2))

	mt := &mockT{}
	require.False(t, AssertSamplesCountInHistogram(mt, hist, 3))
	require.NotEmpty(t, mt.format)
}

func TestRequireCounterValue(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "transferred_bytes_total"})
	counter.Add(100)
	RequireCounterValue(t, counter, 100)

	mt := &mockT{}
	RequireCounterValue(mt, counter, 1)
	require.True(t, mt.failed)
}
