package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/casesync/internal/api"
	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/config"
	"github.com/matheus3301/casesync/internal/session"
	"github.com/matheus3301/casesync/internal/status"
	"github.com/matheus3301/casesync/internal/transport"
)

var t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, "waiting for %s", desc)
}

// shortTempDir keeps socket paths under the darwin sun_path limit.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// newBackend fakes the messaging API: one history message, a conversation
// list, and a channel that echoes sends back as new_message.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	history := chat.Message{
		ID:          "m1",
		CaseID:      "case-1",
		Sender:      chat.Participant{ID: "client-1", DisplayName: "Client", Role: chat.RoleClient},
		RecipientID: "lawyer-1",
		Content:     "hello counsel",
		CreatedAt:   t0,
	}

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/messages/conversations", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, transport.ConversationList{
			Conversations: []chat.ConversationSummary{{CaseID: "case-1", CaseTitle: "Estate", UnreadCount: 1}},
			TotalUnread:   1,
		})
	})
	mux.HandleFunc("GET /api/messages/unread", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, chat.UnreadCount{Total: 1, ByCase: map[string]int{"case-1": 1}})
	})
	mux.HandleFunc("GET /api/messages/{case_id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, transport.MessagePage{Messages: []chat.Message{history}})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		n := 0
		for {
			var env channel.Envelope
			if err := wsjson.Read(ctx, c, &env); err != nil {
				return
			}
			if env.Type != channel.TypeSendMessage {
				continue
			}
			var p channel.SendMessagePayload
			if err := env.Decode(&p); err != nil {
				return
			}
			n++
			echo, _ := channel.NewEnvelope(channel.TypeNewMessage, chat.Message{
				ID:          "srv-" + string(rune('0'+n)),
				CaseID:      p.CaseID,
				Sender:      chat.Participant{ID: "lawyer-1", Role: chat.RoleLawyer},
				RecipientID: p.RecipientID,
				Content:     p.Content,
				CreatedAt:   t0.Add(time.Duration(n) * time.Minute),
			})
			_ = wsjson.Write(ctx, c, echo)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.APIURL = apiURL
	cfg.User.ID = "lawyer-1"
	cfg.Conversation.CaseID = "case-1"
	cfg.Conversation.OtherUserID = "client-1"
	cfg.Channel.HeartbeatInterval = config.Duration{}
	return cfg
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := shortTempDir(t, "casesync-test-*")
	t.Setenv(session.HomeEnv, tmpDir)

	backend := newBackend(t)
	socketPath := filepath.Join(tmpDir, "d.sock")

	app := fx.New(
		Module(Params{
			SessionName: "test",
			SocketPath:  socketPath,
			Config:      testConfig(backend.URL),
			Logger:      zap.NewNop(),
		}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(ctx)
		}
	}()

	client, err := api.Dial(socketPath)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	waitFor(t, "health SERVING", func() bool {
		resp, err := client.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	})

	waitFor(t, "initial history", func() bool {
		view, err := client.Conversation.GetSnapshot(ctx, &api.GetSnapshotRequest{})
		return err == nil && len(view.Messages) == 1 && view.ConnectionState == status.Connected
	})

	resp, err := client.Conversation.SendMessage(ctx, &api.SendMessageRequest{ClientMsgID: "c1", Content: "on my way"})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)

	waitFor(t, "echo appended", func() bool {
		view, err := client.Conversation.GetSnapshot(ctx, &api.GetSnapshotRequest{})
		return err == nil && len(view.Messages) == 2 && view.Messages[1].IsMine
	})

	list, err := client.Conversation.ListConversations(ctx, &api.ListConversationsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "Estate", list.Conversations[0].CaseTitle)

	waitFor(t, "mirrored history", func() bool {
		page, err := client.Conversation.History(ctx, &api.HistoryRequest{})
		return err == nil && len(page.Messages) == 2
	})

	assert.NoError(t, app.Stop(ctx))
	stopped = true

	assert.NoFileExists(t, socketPath, "socket is removed on stop")
	assert.NoFileExists(t, session.LockPath("test"), "lock is released on stop")
}

// TestStopDuringStartup stops the daemon while the coordinator's initial
// load is still running in the background.
func TestStopDuringStartup(t *testing.T) {
	tmpDir := shortTempDir(t, "casesync-stop-*")
	t.Setenv(session.HomeEnv, tmpDir)

	backend := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := range 5 {
		app := fx.New(Module(Params{
			SessionName: "stop",
			SocketPath:  filepath.Join(tmpDir, "d.sock"),
			Config:      testConfig(backend.URL),
			Logger:      zap.NewNop(),
		}), fx.NopLogger)
		require.NoError(t, app.Start(ctx), "start %d", i)
		require.NoError(t, app.Stop(ctx), "stop %d", i)
	}
}

func TestSecondDaemonRefusesLockedSession(t *testing.T) {
	tmpDir := shortTempDir(t, "casesync-lock-*")
	t.Setenv(session.HomeEnv, tmpDir)

	backend := newBackend(t)
	newApp := func(sock string) *fx.App {
		return fx.New(Module(Params{
			SessionName: "dup",
			SocketPath:  filepath.Join(tmpDir, sock),
			Config:      testConfig(backend.URL),
			Logger:      zap.NewNop(),
		}), fx.NopLogger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := newApp("a.sock")
	require.NoError(t, first.Start(ctx))
	defer func() { _ = first.Stop(ctx) }()

	second := newApp("b.sock")
	assert.Error(t, second.Err(), "second daemon must not acquire the session lock")
	assert.NoFileExists(t, filepath.Join(tmpDir, "b.sock"))
}

func TestInvalidConfigFailsFast(t *testing.T) {
	app := fx.New(Module(Params{SessionName: "bad", Config: config.Default(), Logger: zap.NewNop()}), fx.NopLogger)
	assert.Error(t, app.Err())
}

func TestHealthFollowsStatus(t *testing.T) {
	b := bus.New()
	machine := status.NewMachine(b)
	h := NewHealth(b, machine, zap.NewNop())
	h.Start(context.Background())
	defer h.Stop()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: api.ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	for _, to := range []status.State{status.Connecting, status.Connected} {
		_, err := machine.Transition(to, "test")
		require.NoError(t, err)
	}
	waitFor(t, "SERVING", func() bool { return check() == healthpb.HealthCheckResponse_SERVING })

	_, err := machine.Transition(status.Error, "drop")
	require.NoError(t, err)
	waitFor(t, "NOT_SERVING", func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING })
}
