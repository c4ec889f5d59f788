package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

func testConfig() Config {
	cfg, _ := NewConfig().Sanitize()
	cfg.AllowedOrigins = []string{"http://localhost:5173"}
	return cfg
}

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testConfig(), zap.NewNop())
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

// settle returns once the hub has finished every operation submitted before it.
func settle(h *Hub) {
	h.Admit(nil)
}

func newIdentity(name string) model.Identity {
	return model.Identity{UserID: uuid.NewString(), Username: name}
}

// connect admits a pump-less client for id; a zero id is anonymous.
func connect(t *testing.T, h *Hub, id model.Identity) *Client {
	t.Helper()
	p := model.Anonymous()
	if id.UserID != "" {
		p = model.Authenticated(id)
	}
	c := NewClient(nil, h, "test:"+id.Username, p)
	require.True(t, h.Admit(c))
	return c
}

// drain empties the client's queue and returns what was in it.
func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func lastPresence(t *testing.T, frames [][]byte) []model.Identity {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		var p struct {
			Online *[]model.Identity `json:"online"`
		}
		require.NoError(t, json.Unmarshal(frames[i], &p))
		if p.Online != nil {
			return *p.Online
		}
	}
	t.Fatalf("no presence frame among %d frames", len(frames))
	return nil
}

func deliveries(t *testing.T, frames [][]byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		if _, ok := m["id"]; ok {
			out = append(out, m)
		}
	}
	return out
}
