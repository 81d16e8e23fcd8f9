/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-slowclient/log"
)

func TestRecorder(t *testing.T) {
	logRecorder := NewRecorder()
	connLogger := logRecorder.With(log.String("conn_id", "c1"))
	connLogger.Debug("slow client pause", log.Int64("position", 100))
	logRecorder.Info("download finished")

	require.Len(t, logRecorder.Entries(), 2)

	_, found := logRecorder.FindEntry("unknown")
	require.False(t, found)

	entry, found := logRecorder.FindEntry("slow client pause")
	require.True(t, found)
	require.Equal(t, log.LevelDebug, entry.Level)

	connID, found := entry.FindField("conn_id")
	require.True(t, found)
	require.Equal(t, "c1", string(connID.Bytes))

	position, found := entry.FindField("position")
	require.True(t, found)
	require.Equal(t, int64(100), position.Int)

	pauses := logRecorder.FindAllEntriesByFilter(func(e RecordedEntry) bool { return e.Level == log.LevelDebug })
	require.Len(t, pauses, 1)

	logRecorder.Reset()
	require.Empty(t, logRecorder.Entries())
}

func TestRecorder_WithLevel(t *testing.T) {
	logRecorder := NewRecorder()
	logger := logRecorder.WithLevel(log.LevelWarn)
	logger.Info("skipped")
	logger.Error("kept")

	entries := logRecorder.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "kept", entries[0].Text)
}

func TestRecorder_TypedFields(t *testing.T) {
	logRecorder := NewRecorder()
	connLogger := logRecorder.With(log.String("conn_id", "c1"))
	for _, delay := range []int64{0, 100, 40} {
		connLogger.Debug("slow client pause", log.Int64("duration", delay))
	}
	logRecorder.Info("download finished", log.Int("attempts", 2))

	pauses := logRecorder.FindAllEntries("slow client pause")
	require.Len(t, pauses, 3)
	require.Equal(t, int64(140), logRecorder.SumInt64Field("slow client pause", "duration"))
	require.Equal(t, int64(0), logRecorder.SumInt64Field("unknown", "duration"))

	connID, found := pauses[1].StringField("conn_id")
	require.True(t, found)
	require.Equal(t, "c1", connID)
	_, found = pauses[1].Int64Field("conn_id")
	require.False(t, found)

	delay, found := pauses[1].Int64Field("duration")
	require.True(t, found)
	require.Equal(t, int64(100), delay)
	_, found = pauses[1].StringField("duration")
	require.False(t, found)

	finished, found := logRecorder.FindEntry("download finished")
	require.True(t, found)
	attempts, found := finished.Int64Field("attempts")
	require.True(t, found)
	require.Equal(t, int64(2), attempts)
}
