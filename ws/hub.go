package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/antonmedv/expr/vm"
	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/types"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Hub is the live room registry and fan-out broadcaster. Rooms are keyed by
// channel id, created lazily on first join and pruned once empty. All room
// mutations and broadcasts are serialized through one RWMutex; broadcasts run
// inline in the caller's goroutine so successive broadcasts for a channel
// reach each subscriber's send queue in call order.
type Hub struct {
	cfg *config.Config
	log hclog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	// compiled delivery filter per push event kind
	filters map[string]*vm.Program
}

func NewHub(cfg *config.Config, log hclog.Logger) (*Hub, error) {
	filters, err := compileFilters(cfg.FilterConfigs)
	if err != nil {
		return nil, err
	}
	return &Hub{
		cfg:     cfg,
		log:     log,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		filters: filters,
	}, nil
}

// Run drives periodic hub maintenance until ctx is cancelled: occupancy
// logging and pruning of any empty rooms left behind.
func (h *Hub) Run(ctx context.Context) {
	runner := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := runner.AddFunc("@every 1m", func() {
		h.mu.Lock()
		for channelId, room := range h.rooms {
			if len(room) == 0 {
				delete(h.rooms, channelId)
			}
		}
		rooms, conns := len(h.rooms), len(h.clients)
		h.mu.Unlock()
		h.log.Debug("hub occupancy", "rooms", rooms, "connections", conns)
	})
	if err != nil {
		h.log.Error("could not schedule hub maintenance", "error", err)
		return
	}
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
}

// Register makes the client known to the hub. It must be called before the
// client's pumps start.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client registered", "conn", c.Id(), "user", c.user.Id)
}

// Join subscribes the client to a channel room. Joining twice is a no-op.
// Returns false when the client's teardown has already begun: a join racing a
// disconnect resolves to "not joined". Authorization is the caller's duty.
func (h *Hub) Join(c *Client, channelId string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.down {
		return false
	}
	room, ok := h.rooms[channelId]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[channelId] = room
	}
	if _, ok := room[c]; ok {
		return true
	}
	h.pushLocked(room, channelId, types.EventPresenceJoin, types.PresencePayload{ChannelId: channelId, UserId: c.user.Id}, c)
	room[c] = struct{}{}
	return true
}

// Leave removes the client from a room, notifying the remaining members.
// No-op when the client is not in the room.
func (h *Hub) Leave(c *Client, channelId string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, channelId)
}

func (h *Hub) leaveLocked(c *Client, channelId string) {
	room, ok := h.rooms[channelId]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, channelId)
		return
	}
	h.pushLocked(room, channelId, types.EventPresenceLeave, types.PresencePayload{ChannelId: channelId, UserId: c.user.Id}, c)
}

// LeaveAll tears the client out of every room it belongs to and bars any
// later join. Called synchronously from the connection teardown.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.down = true
	delete(h.clients, c)
	for channelId := range h.rooms {
		h.leaveLocked(c, channelId)
	}
}

// Broadcast delivers a push event to every connection in the channel room
// except excludeConn (empty means nobody is excluded). Delivery to one slow
// or dead client never blocks or aborts delivery to the others.
func (h *Hub) Broadcast(channelId, event string, payload interface{}, excludeConn string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[channelId]
	if !ok {
		return
	}
	var exclude *Client
	if excludeConn != "" {
		for c := range room {
			if c.Id() == excludeConn {
				exclude = c
				break
			}
		}
	}
	h.pushLocked(room, channelId, event, payload, exclude)
}

// pushLocked fans one event out to a room. Callers hold h.mu.
func (h *Hub) pushLocked(room map[*Client]struct{}, channelId, event string, payload interface{}, exclude *Client) {
	raw, err := json.Marshal(types.PushMessage{
		Event: event,
		Data:  types.Envelope{Ok: true, Data: payload},
	})
	if err != nil {
		h.log.Error("could not marshal push event", "event", event, "error", err)
		return
	}
	prog := h.filters[event]
	for c := range room {
		if c == exclude {
			continue
		}
		if !h.runFilter(prog, event, channelId, c.user.Id) {
			continue
		}
		c.trySend(raw)
	}
}

// RoomSize returns the current number of connections in a channel room.
func (h *Hub) RoomSize(channelId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelId])
}

// NoClients returns the number of registered connections.
func (h *Hub) NoClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
