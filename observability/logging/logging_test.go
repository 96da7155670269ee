package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeysAndFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "lendingd", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("pool updated", slog.String("asset", "USDC"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "pool updated", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "USDC", line["asset"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("token", "secret").Value.String())
	require.Equal(t, "USDC", MaskField("asset", "USDC").Value.String())
	require.Equal(t, "abcd..."+RedactedValue, MaskToken("abcdefghijkl"))
	require.Equal(t, RedactedValue, MaskToken("short"))
	require.Equal(t, " ", MaskValue(" "))
}
