package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/apoorv-echos11/polling-app/internal/models"
)

// Room naming: every poll has a public room keyed by its id, and an admin
// room alongside it. Admins join both, so a broadcast to the public room
// reaches them without a second send.
func adminRoom(pollID string) string { return pollID + ":admin" }

type subscription struct {
	client *Client
	room   string
}

type roomMessage struct {
	room string
	data []byte
}

// Hub owns every connected client and the per-poll rooms they subscribe to.
// All room state is touched only by the Run loop, so no locks are needed;
// everything else talks to the hub through its channels.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	broadcast   chan roomMessage
}

// NewHub creates an empty hub. Call Run in its own goroutine before serving
// connections.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		broadcast:   make(chan roomMessage, 64),
	}
}

// Run is the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			slog.Info("client connected", "session", client.SessionID())

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				slog.Info("client disconnected", "session", client.SessionID())
			}

		case sub := <-h.subscribe:
			if h.rooms[sub.room] == nil {
				h.rooms[sub.room] = make(map[*Client]bool)
			}
			h.rooms[sub.room][sub.client] = true

		case sub := <-h.unsubscribe:
			if members, ok := h.rooms[sub.room]; ok {
				delete(members, sub.client)
				if len(members) == 0 {
					delete(h.rooms, sub.room)
				}
			}

		case msg := <-h.broadcast:
			for client := range h.rooms[msg.room] {
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer: drop the connection rather than
					// block the whole room. Delivery is at-most-once.
					h.drop(client)
				}
			}
		}
	}
}

// drop removes a client from every room and closes its send channel. The
// close goes through the client so its read pump cannot race an emit onto
// the closed channel.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	for room, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.closeSend()
}

// BroadcastResults pushes a results snapshot to every subscriber of the
// poll's public room. Fire-and-forget: a disconnected viewer picks up a
// fresh snapshot on their next join.
func (h *Hub) BroadcastResults(pollID string, payload models.ResultsPayload) {
	data, err := json.Marshal(envelope{Event: EventResultsUpdate, Data: payload})
	if err != nil {
		slog.Error("failed to encode results broadcast", "pollId", pollID, "error", err)
		return
	}
	h.broadcast <- roomMessage{room: pollID, data: data}
}
