package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/attachment"
	"github.com/Tyrowin/nexus-chat-server/internal/auth"
	"github.com/Tyrowin/nexus-chat-server/internal/model"
	"github.com/Tyrowin/nexus-chat-server/internal/repository/sqlite"
	"github.com/Tyrowin/nexus-chat-server/internal/service"
)

const testOrigin = "http://localhost:5173"

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	wsURL string
}

// newTestEnv runs the full server over a temporary sqlite database.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.UploadDir = t.TempDir()
	cfg.CookieSecure = false
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	db, err := sqlite.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	users := sqlite.NewUserRepo(db)
	files, err := attachment.NewDiskStore(cfg.UploadDir)
	require.NoError(t, err)
	tokens := auth.NewTokenCodec([]byte(cfg.JWTSecret), time.Hour)

	srv := New(cfg, Deps{
		Logger:      zap.NewNop(),
		Tokens:      tokens,
		Accounts:    service.NewAuthService(users, tokens),
		Messages:    service.NewMessageService(sqlite.NewMessageRepo(db), users),
		Attachments: files,
	})
	srv.StartHub()
	t.Cleanup(func() { _ = srv.Hub().Shutdown(2 * time.Second) })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Origin", testOrigin)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func tokenCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

func (e *testEnv) register(t *testing.T, name string) (model.Identity, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/register", "", credentials{Username: name, Password: "password1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out identityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	c := tokenCookie(resp)
	require.NotNil(t, c)
	return model.Identity{UserID: out.ID, Username: out.Username}, c.Value
}

// dial opens a websocket; an empty token connects anonymously.
func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", testOrigin)
	if token != "" {
		header.Set("Cookie", auth.CookieName+"="+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// frames reads conn in the background so control frames keep being answered.
func frames(conn *websocket.Conn) <-chan []byte {
	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ch <- msg
		}
	}()
	return ch
}

func presenceNames(raw []byte) ([]string, bool) {
	var p struct {
		Online *[]model.Identity `json:"online"`
	}
	if json.Unmarshal(raw, &p) != nil || p.Online == nil {
		return nil, false
	}
	names := make([]string, 0, len(*p.Online))
	for _, id := range *p.Online {
		names = append(names, id.Username)
	}
	return names, true
}

// awaitPresence skips frames until a presence frame lists exactly want.
func awaitPresence(t *testing.T, ch <-chan []byte, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	var last []string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case raw, ok := <-ch:
			require.True(t, ok, "connection closed while waiting for presence %v", want)
			if names, isPresence := presenceNames(raw); isPresence {
				last = names
				if fmt.Sprint(names) == fmt.Sprint(want) {
					return
				}
			}
		case <-timeout:
			t.Fatalf("presence never became %v; last seen %v", want, last)
		}
	}
}

// awaitFrame skips presence frames and returns the next other frame.
func awaitFrame(t *testing.T, ch <-chan []byte) map[string]any {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case raw, ok := <-ch:
			require.True(t, ok, "connection closed while waiting for a frame")
			if _, isPresence := presenceNames(raw); isPresence {
				continue
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			return m
		case <-timeout:
			t.Fatal("no frame received")
			return nil
		}
	}
}

// quiet asserts that nothing but presence arrives for d.
func quiet(t *testing.T, ch <-chan []byte, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return
			}
			if _, isPresence := presenceNames(raw); !isPresence {
				t.Fatalf("unexpected frame %s", raw)
			}
		case <-deadline:
			return
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"message": msg}))
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "running")

	resp = env.do(t, http.MethodGet, "/test", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestServer_Accounts(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, token := env.register(t, "Alice")
	require.Equal(t, "alice", alice.Username)

	t.Run("duplicate username", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/register", "", credentials{Username: "alice", Password: "password2"})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("short password", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/register", "", credentials{Username: "carol", Password: "short"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/login", strings.NewReader("{"))
		require.NoError(t, err)
		resp, err := env.ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("login", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/login", "", credentials{Username: "alice", Password: "wrong-password"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Nil(t, tokenCookie(resp))

		resp = env.do(t, http.MethodPost, "/login", "", credentials{Username: "alice", Password: "password1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		c := tokenCookie(resp)
		require.NotNil(t, c)
		require.True(t, c.HttpOnly)
		require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("profile", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/profile", "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/profile", "forged", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/profile", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var id model.Identity
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
		require.Equal(t, alice, id)
	})

	t.Run("people", func(t *testing.T) {
		bob, _ := env.register(t, "bobby")
		resp := env.do(t, http.MethodGet, "/people", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var people []model.Identity
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&people))
		require.Equal(t, []model.Identity{alice, bob}, people)
	})

	t.Run("logout", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/logout", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		c := tokenCookie(resp)
		require.NotNil(t, c)
		require.Empty(t, c.Value)
		require.Negative(t, c.MaxAge)
	})

	t.Run("preflight", func(t *testing.T) {
		resp := env.do(t, http.MethodOptions, "/login", "", nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	})
}

func TestServer_PresenceAndDelivery(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, aliceToken := env.register(t, "alice")
	bob, bobToken := env.register(t, "bobby")

	a := frames(env.dial(t, aliceToken))
	awaitPresence(t, a, "alice")
	bobConn1 := env.dial(t, bobToken)
	b1 := frames(bobConn1)
	bobConn2 := env.dial(t, bobToken)
	b2 := frames(bobConn2)
	anon := frames(env.dial(t, ""))

	for _, ch := range []<-chan []byte{a, b1, b2, anon} {
		awaitPresence(t, ch, "alice", "bobby")
	}

	aliceConn := env.dial(t, aliceToken)
	a2 := frames(aliceConn)
	awaitPresence(t, a2, "alice", "bobby")

	send(t, aliceConn, map[string]any{"recipient": bob.UserID, "text": "hi"})
	for _, ch := range []<-chan []byte{b1, b2} {
		got := awaitFrame(t, ch)
		require.Equal(t, "hi", got["text"])
		require.Equal(t, bob.UserID, got["recipient"])
		require.Equal(t, alice.UserID, got["sender"])
		require.Contains(t, got, "file")
		require.Nil(t, got["file"])
		require.NotEmpty(t, got["id"])
	}

	resp := env.do(t, http.MethodGet, "/messages/"+bob.UserID, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []model.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	require.Equal(t, "hi", history[0].Text)

	t.Run("attachment", func(t *testing.T) {
		send(t, bobConn1, map[string]any{
			"recipient": alice.UserID,
			"file":      map[string]string{"name": "photo.png", "data": "data:image/png;base64,aGVsbG8="},
		})
		var name string
		for _, ch := range []<-chan []byte{a, a2} {
			got := awaitFrame(t, ch)
			require.NotContains(t, got, "text")
			name, _ = got["file"].(string)
			require.True(t, strings.HasSuffix(name, ".png"), name)
		}

		resp := env.do(t, http.MethodGet, "/uploads/"+name, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "hello", string(body))
	})

	t.Run("anonymous sender is ignored", func(t *testing.T) {
		anonConn := env.dial(t, "")
		anon2 := frames(anonConn)
		awaitPresence(t, anon2, "alice", "bobby")
		send(t, anonConn, map[string]any{"recipient": bob.UserID, "text": "boo"})
		quiet(t, b1, 200*time.Millisecond)
	})

	quiet(t, anon, 100*time.Millisecond)

	t.Run("departure is announced", func(t *testing.T) {
		require.NoError(t, aliceConn.Close())
		require.NoError(t, bobConn1.Close())
		require.NoError(t, bobConn2.Close())

		// bob's last connection is gone, so only alice remains online
		awaitPresence(t, a, "alice")
		awaitPresence(t, anon, "alice")
		require.Eventually(t, func() bool { return len(env.srv.Hub().Clients(nil)) == 2 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestServer_UploadPathTraversal(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, name := range []string{"..%2fchat.db", ".hidden", "%2e%2e"} {
		resp := env.do(t, http.MethodGet, "/uploads/"+name, "", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, name)
	}
}

func TestServer_HistoryRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	bob, _ := env.register(t, "bobby")
	resp := env.do(t, http.MethodGet, "/messages/"+bob.UserID, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RejectsDisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, origin := range []string{"", "http://evil.test", "not-a-url"} {
		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL, header)
		if conn != nil {
			_ = conn.Close()
		}
		require.Error(t, err, origin)
		require.NotNil(t, resp)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}
	require.Empty(t, env.srv.Hub().Clients(nil))
}

func TestServer_InvalidTokenConnectsAnonymously(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.register(t, "alice")

	anon := frames(env.dial(t, "not-a-token"))
	awaitPresence(t, anon)
	a := frames(env.dial(t, token))
	awaitPresence(t, a, "alice")
	awaitPresence(t, anon, "alice")
}

func TestServer_EvictsUnresponsiveClient(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Liveness = LivenessConfig{PingInterval: 100 * time.Millisecond, PongDeadline: 50 * time.Millisecond}
	})
	_, aliceToken := env.register(t, "alice")
	bob, bobToken := env.register(t, "bobby")

	a := frames(env.dial(t, aliceToken))
	awaitPresence(t, a, "alice")

	silent := env.dial(t, bobToken)
	silent.SetPingHandler(func(string) error { return nil })
	gone := frames(silent)
	awaitPresence(t, a, "alice", "bobby")

	var victim *Client
	require.Eventually(t, func() bool {
		found := env.srv.Hub().Clients(func(c *Client) bool { return c.principal.Is(bob.UserID) })
		if len(found) == 1 {
			victim = found[0]
		}
		return victim != nil
	}, time.Second, 5*time.Millisecond)

	awaitPresence(t, a, "alice")

	// the silent connection is closed by the server
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-gone:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	state, probing, armed := victim.heartbeat.status()
	require.Equal(t, stateDead, state)
	require.False(t, probing)
	require.False(t, armed)

	// alice answers every ping, so she stays and hears nothing further
	deadline := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case raw, ok := <-a:
			require.True(t, ok, "responsive client was evicted")
			t.Fatalf("unexpected frame after eviction: %s", raw)
		case <-deadline:
			done = true
		}
	}
	require.Len(t, env.srv.Hub().Clients(nil), 1)
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxMessageSize = 512 })
	alice, token := env.register(t, "alice")

	conn := env.dial(t, token)
	ch := frames(conn)
	awaitPresence(t, ch, "alice")

	send(t, conn, map[string]any{"recipient": alice.UserID, "text": strings.Repeat("x", 1024)})
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(env.srv.Hub().Clients(nil)) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_RateLimitDropsExcess(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Minute}
	})
	_, aliceToken := env.register(t, "alice")
	bob, bobToken := env.register(t, "bobby")

	aliceConn := env.dial(t, aliceToken)
	a := frames(aliceConn)
	b := frames(env.dial(t, bobToken))
	awaitPresence(t, a, "alice", "bobby")
	awaitPresence(t, b, "alice", "bobby")

	for i := 0; i < 4; i++ {
		send(t, aliceConn, map[string]any{"recipient": bob.UserID, "text": fmt.Sprintf("m%d", i)})
	}
	require.Equal(t, "m0", awaitFrame(t, b)["text"])
	require.Equal(t, "m1", awaitFrame(t, b)["text"])
	quiet(t, b, 200*time.Millisecond)
}

func TestServer_WebSocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/ws", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/ws", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, env.srv.Hub().Clients(nil))
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.register(t, "alice")

	var chans []<-chan []byte
	for i := 0; i < 3; i++ {
		ch := frames(env.dial(t, token))
		awaitPresence(t, ch, "alice")
		chans = append(chans, ch)
	}

	require.NoError(t, env.srv.Hub().Shutdown(2*time.Second))
	for _, ch := range chans {
		require.Eventually(t, func() bool {
			select {
			case _, ok := <-ch:
				return !ok
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	}
	require.Empty(t, env.srv.Hub().Clients(nil))

	// late handshakes are refused once the hub is gone
	conn := env.dial(t, token)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServer_RecovererAnswers500(t *testing.T) {
	srv := New(testConfig(), Deps{Logger: zap.NewNop()})
	h := srv.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateServer(t *testing.T) {
	s := CreateServer(":0", http.NotFoundHandler())
	require.Equal(t, ":0", s.Addr)
	require.Positive(t, s.ReadHeaderTimeout)
	require.Positive(t, s.ReadTimeout)
	require.Positive(t, s.WriteTimeout)
	require.Positive(t, s.IdleTimeout)
}
