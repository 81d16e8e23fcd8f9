/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func readJSONLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestNewLogger_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "slowfetch.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputFile
	cfg.File.Path = logPath
	cfg.Level = LevelInfo

	logger, closeFn := NewLogger(cfg)
	logger.Debug("should be skipped")
	logger.With(String("conn_id", "c1")).Info("paced chunk", Int64("position", 100))
	logger.Warnf("achieved %d bps", 56000)
	closeFn()

	lines := readJSONLines(t, logPath)
	require.Len(t, lines, 2)

	require.Equal(t, "info", lines[0]["level"])
	require.Equal(t, "paced chunk", lines[0]["msg"])
	require.Equal(t, "c1", lines[0]["conn_id"])
	require.Equal(t, float64(100), lines[0]["position"])
	require.Equal(t, float64(os.Getpid()), lines[0]["pid"])

	require.Equal(t, "warn", lines[1]["level"])
	require.Equal(t, "achieved 56000 bps", lines[1]["msg"])
}

func TestLogfAdapter_WithLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "slowfetch.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputFile
	cfg.File.Path = logPath
	cfg.Level = LevelDebug

	logger, closeFn := NewLogger(cfg)
	logger = logger.WithLevel(LevelWarn)
	logger.Info("skipped")
	logger.Errorf("kept")
	called := false
	logger.AtLevel(LevelDebug, func(LogFunc) { called = true })
	closeFn()

	require.False(t, called)
	lines := readJSONLines(t, logPath)
	require.Len(t, lines, 1)
	require.Equal(t, "kept", lines[0]["msg"])
}

func TestResolvePlaceholders(t *testing.T) {
	res := resolvePlaceholders("slowfetch-{{pid}}.log")
	require.Equal(t, "slowfetch-"+strconv.Itoa(os.Getpid())+".log", res)
	require.NotContains(t, resolvePlaceholders("slowfetch-{{starttime}}.log"), "{{")
}
