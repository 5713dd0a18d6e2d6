package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/kantan-tools/kscrape/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(), slog.String("cmd", "serve"))
	a := log.WithJob(ctx, "job_a")
	b := log.WithJob(ctx, "job_b")

	logger.With("component", "test").InfoContext(a, "first")
	logger.InfoContext(b, "second")
	logger.DebugContext(b, "hidden")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.False(t, dec.More())

	require.Equal(t, "first", first["msg"])
	require.Equal(t, "serve", first["cmd"])
	require.Equal(t, "job_a", first["job_id"])
	require.Equal(t, "test", first["component"])

	require.Equal(t, "second", second["msg"])
	require.Equal(t, "job_b", second["job_id"])
}
