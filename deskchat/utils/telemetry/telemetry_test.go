package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	got, end := m.Start(ctx, "op")
	require.Equal(t, ctx, got)
	end(errors.New("ignored"))
	m.ChatCreated(ctx)
	m.Claim(ctx, "won")
	m.MessageSent(ctx, "agent")
	m.ChatClosed(ctx)
	m.LiveConnection(ctx, 1)
}

func TestInitTelemetryWritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	flush, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)
	defer flush()

	m, err := NewMetrics()
	require.NoError(t, err)
	ctx, end := m.Start(context.Background(), "ChatController.CreateChat")
	m.ChatCreated(ctx)
	end(nil)
}
