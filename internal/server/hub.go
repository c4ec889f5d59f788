// Package server coordinates connection admission, eviction and presence
// announcements for the chat websocket system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/model"
)

// Hub is the connection registry. Its Run goroutine is the only writer of
// the client set; admissions and evictions are applied there in arrival
// order and each is followed by a presence announcement. Readers take
// snapshots under the read lock, so an eviction is never half-observed.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	cfg     Config
	log     *zap.Logger
	onFrame func(ctx context.Context, sender *Client, raw []byte)
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(cfg Config, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		cfg:        cfg,
		log:        log,
		onFrame:    func(context.Context, *Client, []byte) {},
	}
}

// Admit hands a new connection to the hub. It returns false when the hub
// is shutting down; the caller then owns the connection.
func (h *Hub) Admit(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Evict removes client from the registry. It is idempotent and may be
// called from any goroutine except Run.
func (h *Hub) Evict(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.add(client)
			h.announce()

		case client := <-h.unregister:
			if h.remove(client) {
				h.announce()
			}
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.log.Info("client admitted", zap.Int("clients", clientCount))
	client.start(&h.wg)
}

// remove deletes client and releases its resources. Only Run calls it.
func (h *Hub) remove(client *Client) bool {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.release()
	client.log.Info("client evicted", zap.Int("clients", clientCount))
	return true
}

// Clients returns a point-in-time snapshot of the registered clients that
// satisfy match; a nil match selects all.
func (h *Hub) Clients(match func(*Client) bool) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if match == nil || match(client) {
			clients = append(clients, client)
		}
	}
	return clients
}

// Online returns the distinct identities behind the registered clients,
// ordered by username then user id. Anonymous clients are not listed.
func (h *Hub) Online() []model.Identity {
	h.mutex.RLock()
	seen := make(map[string]model.Identity, len(h.clients))
	for client := range h.clients {
		if id, ok := client.principal.Identity(); ok {
			seen[id.UserID] = id
		}
	}
	h.mutex.RUnlock()

	online := make([]model.Identity, 0, len(seen))
	for _, id := range seen {
		online = append(online, id)
	}
	sort.Slice(online, func(i, j int) bool {
		if online[i].Username != online[j].Username {
			return online[i].Username < online[j].Username
		}
		return online[i].UserID < online[j].UserID
	})
	return online
}

// announce sends the online set to every registered client. Clients whose
// buffer is full are evicted, which changes the set, so it announces again.
func (h *Hub) announce() {
	for {
		payload, err := json.Marshal(PresenceFrame{Online: h.Online()})
		if err != nil {
			h.log.Error("marshal presence", zap.Error(err))
			return
		}

		var failed []*Client
		for _, client := range h.Clients(nil) {
			if !h.safeSend(client, payload) {
				failed = append(failed, client)
			}
		}

		removed := false
		for _, client := range failed {
			if h.remove(client) {
				client.log.Warn("client evicted due to full send buffer")
				removed = true
			}
		}
		if !removed {
			return
		}
	}
}

// safeSend queues message for client without blocking. It fails when the
// client is no longer registered or its buffer is full.
func (h *Hub) safeSend(client *Client, message []byte) bool {
	// the read lock keeps remove from closing the channel mid-send
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// shutdownClients closes every connection and releases its heartbeat.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
		client.closed = true
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.release()
		client.closeConn()
	}

	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for all client goroutines to finish or
// for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
