package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/internal/core/protocol"
	"github.com/zeusync/ecsync/internal/demo/simulation"
	"github.com/zeusync/ecsync/internal/server"
	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/ecsync"
)

func startRoom(t *testing.T, token string) (*server.Server, *simulation.Simulation, config.Client) {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Entities = 8
	cfg.Server.PatchRate = cfg.Server.TickRate
	cfg.Server.Token = token

	sim, err := simulation.New(cfg.Simulation, ecsync.WithLogger(log.NewNop()))
	require.NoError(t, err)
	srv := server.New(cfg.Server, sim, server.WithLogger(log.NewNop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	cc := cfg.Client
	cc.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + cfg.Server.Path
	cc.Token = token
	cc.ReportEvery = 0
	return srv, sim, cc
}

func TestClientMirrorsTheRoom(t *testing.T) {
	srv, sim, cc := startRoom(t, "secret")

	c, err := Dial(context.Background(), cc, WithLogger(log.NewNop()))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Session())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.Messages() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 8, c.Summary().Circles)

	for i := 0; i < 10; i++ {
		srv.Tick(1000.0 / 60)
	}
	want := 1 + int(srv.Stats().Patches)
	require.Eventually(t, func() bool { return c.Messages() == want }, 5*time.Second, 10*time.Millisecond)

	c.Inspect(func(m *simulation.Mirror) {
		sim.World.Entities().Each(func(e ecs.Entity) bool {
			got, ok := m.World.Entities().ByID(e.ID())
			require.True(t, ok)
			if circle, ok := ecs.Get[*simulation.Circle](e); ok {
				mirrored, ok := ecs.Get[*simulation.Circle](got)
				require.True(t, ok)
				assert.Equal(t, circle.Position.Vec(), mirrored.Position.Vec())
			}
			return true
		})
	})

	srv.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after the server closed")
	}
	assert.Zero(t, c.Summary().Intersecting)
}

func TestClientStopsOnCancel(t *testing.T) {
	_, _, cc := startRoom(t, "")
	c, err := Dial(context.Background(), cc, WithLogger(log.NewNop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after cancel")
	}
}

func TestDialRejectsWrongToken(t *testing.T) {
	_, _, cc := startRoom(t, "secret")
	cc.Token = "nope"
	_, err := Dial(context.Background(), cc, WithLogger(log.NewNop()))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestDialRejectsForeignSchema(t *testing.T) {
	var upgrader websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		hs, _ := protocol.EncodeHandshake(protocol.Handshake{Session: "s1", Fingerprint: 42})
		_ = conn.WriteMessage(websocket.BinaryMessage, hs)
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	cc := config.Default().Client
	cc.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
	_, err := Dial(context.Background(), cc, WithLogger(log.NewNop()))
	require.ErrorIs(t, err, protocol.ErrFingerprintMismatch)
}

func TestDialRejectsMissingHandshake(t *testing.T) {
	var upgrader websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, protocol.Frame(protocol.KindPatch, []byte{0}))
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	cc := config.Default().Client
	cc.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
	_, err := Dial(context.Background(), cc, WithLogger(log.NewNop()))
	require.ErrorIs(t, err, protocol.ErrUnexpectedMessage)
}
