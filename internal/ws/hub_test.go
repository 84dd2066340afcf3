package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/apoorv-echos11/polling-app/internal/models"
	"github.com/apoorv-echos11/polling-app/internal/poll"
	"github.com/apoorv-echos11/polling-app/internal/store"
)

func TestHubRoomFanout(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	subscriber := &Client{hub: hub, send: make(chan []byte, 4), sessionID: "sub"}
	admin := &Client{hub: hub, send: make(chan []byte, 4), sessionID: "adm"}
	outsider := &Client{hub: hub, send: make(chan []byte, 4), sessionID: "out"}
	for _, c := range []*Client{subscriber, admin, outsider} {
		hub.register <- c
	}
	hub.subscribe <- subscription{client: subscriber, room: "p1"}
	hub.subscribe <- subscription{client: admin, room: "p1"}
	hub.subscribe <- subscription{client: admin, room: adminRoom("p1")}
	hub.subscribe <- subscription{client: outsider, room: "p2"}

	hub.BroadcastResults("p1", models.ResultsPayload{TotalParticipants: 7})

	for _, c := range []*Client{subscriber, admin} {
		select {
		case raw := <-c.send:
			var msg struct {
				Event string                `json:"event"`
				Data  models.ResultsPayload `json:"data"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Event != EventResultsUpdate || msg.Data.TotalParticipants != 7 {
				t.Errorf("client %s got unexpected message: %+v", c.sessionID, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s never received the broadcast", c.sessionID)
		}
	}

	select {
	case raw := <-outsider.send:
		t.Errorf("outsider should not receive p1 broadcasts, got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitAfterSlowConsumerDrop(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Unbuffered send channel with no reader: the broadcast cannot be
	// queued, so the hub drops the client and closes its channel.
	slow := &Client{hub: hub, send: make(chan []byte), sessionID: "slow"}
	hub.register <- slow
	hub.subscribe <- subscription{client: slow, room: "p1"}

	hub.BroadcastResults("p1", models.ResultsPayload{TotalParticipants: 1})

	// Don't receive yet: being a ready receiver would let the unbuffered
	// send succeed instead of hitting the slow-consumer branch.
	time.Sleep(200 * time.Millisecond)

	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, ok := <-slow.send:
			open = ok
		case <-deadline:
			t.Fatal("hub never dropped the slow client")
		}
	}

	// The dropped client's read pump can still be dispatching a frame.
	// Emitting now must be a quiet no-op, not a send on a closed channel.
	slow.emit(EventVoteAck, errorPayload{Error: "late"})
}

// --- end-to-end over a real connection ---

func newTestServer(t *testing.T) (*httptest.Server, *poll.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb)
	service := poll.NewService(poll.NewRepository(st), poll.NewLedger(st), "master-secret")

	hub := NewHub()
	go hub.Run()
	service.SetBroadcaster(hub)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		ServeWs(hub, service, c.Writer, c.Request)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, service
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// awaitEvent reads frames until the wanted event arrives, decoding its data
// into out. Other events in between are fine; subscribers get snapshots and
// updates interleaved with acks.
func awaitEvent(t *testing.T, conn *websocket.Conn, want string, out any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Event != want {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(msg.Data, out); err != nil {
				t.Fatalf("decode %s payload: %v", want, err)
			}
		}
		return
	}
}

func TestVotingFlowOverWebsocket(t *testing.T) {
	srv, service := newTestServer(t)
	ctx := context.Background()

	created, err := service.Create(ctx, "Lunch", []models.QuestionInput{
		{Text: "Pizza or Salad?", Kind: models.KindChoice, Options: []string{"Pizza", "Salad"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	voter := dial(t, srv)
	viewer := dial(t, srv)

	// Both join; each gets a snapshot (without the admin token) and the
	// current results.
	send(t, voter, EventJoinPoll, joinPollPayload{PollID: created.PollID})
	var snapshot models.Poll
	awaitEvent(t, voter, EventPollSnapshot, &snapshot)
	if snapshot.AdminToken != "" {
		t.Error("snapshot must not leak the admin token")
	}
	awaitEvent(t, voter, EventResultsUpdate, nil)

	send(t, viewer, EventJoinPoll, joinPollPayload{PollID: created.PollID})
	awaitEvent(t, viewer, EventPollSnapshot, nil)
	awaitEvent(t, viewer, EventResultsUpdate, nil)

	// Voter submits; they get a unicast ack, the viewer gets the broadcast.
	send(t, voter, EventSubmitVotes, submitVotesPayload{
		PollID:  created.PollID,
		VoterID: "voter-1",
		Answers: []models.Answer{{QuestionIndex: 0, Value: "Pizza"}},
	})
	var ack poll.SubmitResult
	awaitEvent(t, voter, EventVoteAck, &ack)
	if ack.Skipped != 0 {
		t.Errorf("unexpected skips: %+v", ack)
	}

	var update models.ResultsPayload
	awaitEvent(t, viewer, EventResultsUpdate, &update)
	if update.Results[0].Tally["Pizza"] != 1 || update.TotalParticipants != 1 {
		t.Errorf("unexpected broadcast: %+v", update)
	}

	// The same voter from a different connection is rejected.
	second := dial(t, srv)
	send(t, second, EventSubmitVotes, submitVotesPayload{
		PollID:  created.PollID,
		VoterID: "voter-1",
		Answers: []models.Answer{{QuestionIndex: 0, Value: "Salad"}},
	})
	var voteErr errorPayload
	awaitEvent(t, second, EventVoteError, &voteErr)
	if voteErr.Error == "" {
		t.Error("vote-error should carry a message")
	}
}

func TestJoinAdminAuth(t *testing.T) {
	srv, service := newTestServer(t)

	created, err := service.Create(context.Background(), "Lunch", []models.QuestionInput{
		{Text: "Pizza or Salad?", Kind: models.KindChoice, Options: []string{"Pizza", "Salad"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Wrong token: explicit admin-error, no snapshot.
	intruder := dial(t, srv)
	send(t, intruder, EventJoinAdmin, joinAdminPayload{PollID: created.PollID, AdminToken: "wrong"})
	var adminErr errorPayload
	awaitEvent(t, intruder, EventAdminError, &adminErr)

	// Right token: the snapshot includes the admin token.
	admin := dial(t, srv)
	send(t, admin, EventJoinAdmin, joinAdminPayload{PollID: created.PollID, AdminToken: created.AdminToken})
	var snapshot models.Poll
	awaitEvent(t, admin, EventPollSnapshot, &snapshot)
	if snapshot.AdminToken != created.AdminToken {
		t.Error("admin snapshot should include the admin token")
	}
	awaitEvent(t, admin, EventResultsUpdate, nil)
}
