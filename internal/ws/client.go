package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apoorv-echos11/polling-app/internal/models"
	"github.com/apoorv-echos11/polling-app/internal/poll"
)

// Wire events. Client to server on the left block, server to client on the
// right.
const (
	EventJoinPoll    = "join-poll"
	EventJoinAdmin   = "join-admin"
	EventSubmitVotes = "submit-votes"
	EventLeavePoll   = "leave-poll"

	EventPollSnapshot  = "poll-snapshot"
	EventResultsUpdate = "results-update"
	EventVoteAck       = "vote-ack"
	EventVoteError     = "vote-error"
	EventAdminError    = "admin-error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// envelope is the wire frame for every message in both directions.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inbound is the client-to-server frame before its data is decoded per event.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPollPayload struct {
	PollID string `json:"pollId"`
}

type joinAdminPayload struct {
	PollID     string `json:"pollId"`
	AdminToken string `json:"adminToken"`
}

type submitVotesPayload struct {
	PollID  string          `json:"pollId"`
	VoterID string          `json:"voterId"`
	Answers []models.Answer `json:"answers"`
}

type errorPayload struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Voter links get shared anywhere; origin checking happens at the CORS
	// layer for the API, not here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection: a voter's or admin's live view of a
// poll. The session id tags open-text responses and identifies the
// connection in logs.
type Client struct {
	hub       *Hub
	service   *poll.Service
	conn      *websocket.Conn
	send      chan []byte
	sessionID string

	// closed guards send: the hub closes the channel when it drops a slow
	// consumer, but the client's own read pump may still be dispatching a
	// frame and trying to emit. Sending on the closed channel would panic
	// in a goroutine nothing recovers.
	mu     sync.Mutex
	closed bool
}

// closeSend closes the send channel exactly once and marks the client so
// emit becomes a no-op. Called only by the hub.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// SessionID returns the connection's opaque session identifier.
func (c *Client) SessionID() string { return c.sessionID }

// ServeWs upgrades an HTTP request to a websocket connection and starts the
// client's read and write pumps.
func ServeWs(hub *Hub, service *poll.Service, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{
		hub:       hub,
		service:   service,
		conn:      conn,
		send:      make(chan []byte, 64),
		sessionID: uuid.NewString(),
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "session", c.sessionID, "error", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("dropping malformed frame", "session", c.sessionID, "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(msg inbound) {
	ctx := context.Background()
	switch msg.Event {
	case EventJoinPoll:
		var p joinPollPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.PollID == "" {
			return
		}
		c.joinPoll(ctx, p.PollID)

	case EventJoinAdmin:
		var p joinAdminPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.PollID == "" {
			return
		}
		c.joinAdmin(ctx, p.PollID, p.AdminToken)

	case EventSubmitVotes:
		var p submitVotesPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.emit(EventVoteError, errorPayload{Error: "malformed vote submission"})
			return
		}
		c.submitVotes(ctx, p)

	case EventLeavePoll:
		var p joinPollPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.PollID == "" {
			return
		}
		c.hub.unsubscribe <- subscription{client: c, room: p.PollID}
		c.hub.unsubscribe <- subscription{client: c, room: adminRoom(p.PollID)}

	default:
		slog.Warn("unknown event", "event", msg.Event, "session", c.sessionID)
	}
}

// joinPoll subscribes the connection to a poll's public room and sends the
// current snapshot and results. Closed polls still get a snapshot so late
// viewers can see final numbers.
func (c *Client) joinPoll(ctx context.Context, pollID string) {
	pub, err := c.service.GetPublic(ctx, pollID)
	if err != nil && !errors.Is(err, poll.ErrPollClosed) {
		return
	}
	c.hub.subscribe <- subscription{client: c, room: pollID}
	c.emit(EventPollSnapshot, pub)
	c.emitResults(ctx, pollID)
}

// joinAdmin verifies the admin token, then subscribes the connection to both
// the admin room and the public room. On mismatch the connection joins
// nothing and gets an explicit admin-error.
func (c *Client) joinAdmin(ctx context.Context, pollID, adminToken string) {
	full, err := c.service.GetAdmin(ctx, pollID, adminToken)
	if err != nil {
		c.emit(EventAdminError, errorPayload{Error: "Invalid admin credentials"})
		return
	}
	c.hub.subscribe <- subscription{client: c, room: adminRoom(pollID)}
	c.hub.subscribe <- subscription{client: c, room: pollID}
	c.emit(EventPollSnapshot, full)
	c.emitResults(ctx, pollID)
}

// submitVotes runs the whole batch through the vote processor. The ack or
// error goes only to this connection; everyone subscribed to the poll gets
// the results broadcast from the service.
func (c *Client) submitVotes(ctx context.Context, p submitVotesPayload) {
	result, err := c.service.Submit(ctx, p.PollID, p.VoterID, c.sessionID, p.Answers)
	if err != nil {
		c.emit(EventVoteError, errorPayload{Error: voteErrorMessage(err)})
		return
	}
	c.emit(EventVoteAck, result)
}

func voteErrorMessage(err error) string {
	switch {
	case errors.Is(err, poll.ErrNotFound):
		return "Poll not found"
	case errors.Is(err, poll.ErrPollClosed):
		return "Poll is closed"
	case errors.Is(err, poll.ErrAlreadyVoted):
		return "You have already submitted your responses"
	default:
		return "Failed to submit votes"
	}
}

func (c *Client) emitResults(ctx context.Context, pollID string) {
	payload, err := c.service.Results(ctx, pollID)
	if err != nil {
		return
	}
	c.emit(EventResultsUpdate, payload)
}

// emit marshals and queues one message to this connection only. A full send
// buffer means the hub is about to drop us anyway, so the message is lost
// silently; a client the hub already dropped is a no-op.
func (c *Client) emit(event string, data any) {
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}
