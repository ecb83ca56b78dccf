package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "goldwatch.log")
	logger := NewLogger(Config{Level: "debug", File: FileConfig{Path: path, MaxSizeMB: 1}})

	logger.Debug().Str("component", "test").Msg("hello")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	require.Equal(t, "hello", entry["message"])
	require.Equal(t, "debug", entry["level"])
}

func TestLevelFallback(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, NewLogger(Config{Level: "nonsense"}).GetLevel())
	require.Equal(t, zerolog.WarnLevel, NewLogger(Config{Level: "WARN"}).GetLevel())
}
