package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/driverpack/driverpack/internal/log"

	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(t.Context(), slog.String("run_id", "r1"))
	child := log.ContextAttrs(ctx, slog.String("vendor", "Dell"))

	logger.With("cmd", "run").InfoContext(child, "hello")
	logger.DebugContext(child, "hidden")
	logger.InfoContext(ctx, "parent")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "hello", first["msg"])
	require.Equal(t, "r1", first["run_id"])
	require.Equal(t, "Dell", first["vendor"])
	require.Equal(t, "run", first["cmd"])

	require.Equal(t, "parent", second["msg"])
	require.Equal(t, "r1", second["run_id"])
	require.NotContains(t, second, "vendor")
}

func TestVerbose(t *testing.T) {
	var buf bytes.Buffer
	log.New(&buf, true).Debug("debug line")
	require.Contains(t, buf.String(), "debug line")
}
