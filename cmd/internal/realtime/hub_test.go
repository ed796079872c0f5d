package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	v1 "parley/shared/contracts/chat/v1"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func attach(h *Hub, id string, queue int) *Client {
	c := NewClient(id, queue)
	h.Attach(c)
	return c
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHub_EmitQueuesEnvelope(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	c := attach(h, "c1", 4)

	if err := h.Emit("c1", v1.KindOnMsg, map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := drain(c)
	if len(got) != 1 {
		t.Fatalf("queued: got %d want 1", len(got))
	}
	if got[0].Kind != v1.KindOnMsg || got[0].V != v1.Version || got[0].ID == "" {
		t.Fatalf("unexpected envelope: %+v", got[0])
	}
	var body map[string]string
	if err := json.Unmarshal(got[0].Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body["content"] != "hi" {
		t.Fatalf("content: got %q want %q", body["content"], "hi")
	}

	if err := h.Emit("missing", v1.KindOnMsg, nil); !errors.Is(err, ErrUnknownConn) {
		t.Fatalf("unknown conn: got %v want %v", err, ErrUnknownConn)
	}
}

func TestHub_EmitBackpressureAndClosed(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	c := NewClient("c1", 1)
	h.Attach(c)

	if err := h.Emit("c1", v1.KindOnMsg, 1); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if err := h.Emit("c1", v1.KindOnMsg, 2); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("full queue: got %v want %v", err, ErrBackpressure)
	}

	h.Disconnect("c1")
	if h.IsLive("c1") {
		t.Fatalf("disconnected conn still live")
	}
	if err := h.Emit("c1", v1.KindOnMsg, 3); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("closed conn: got %v want %v", err, ErrConnClosed)
	}
}

func TestHub_RoomsFanOutExceptSender(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	a := attach(h, "a", 4)
	b := attach(h, "b", 4)
	c := attach(h, "c", 4)

	for _, id := range []string{"a", "b"} {
		if err := h.JoinRoom(id, "g1"); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	// Joining twice is a no-op.
	if err := h.JoinRoom("a", "g1"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	members := h.RoomMembers("g1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("members: got %v want [a b]", members)
	}

	if n := h.EmitRoom("g1", "a", v1.KindOnMsg, "x"); n != 1 {
		t.Fatalf("delivered: got %d want 1", n)
	}
	if got := len(drain(a)); got != 0 {
		t.Fatalf("sender received %d events", got)
	}
	if got := len(drain(b)); got != 1 {
		t.Fatalf("member received %d events, want 1", got)
	}
	if got := len(drain(c)); got != 0 {
		t.Fatalf("non-member received %d events", got)
	}

	if n := h.EmitRoom("nope", "", v1.KindOnMsg, "x"); n != 0 {
		t.Fatalf("unknown room delivered %d", n)
	}
}

func TestHub_JoinRequiresLiveConn(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	if err := h.JoinRoom("ghost", "g1"); !errors.Is(err, ErrUnknownConn) {
		t.Fatalf("unknown: got %v want %v", err, ErrUnknownConn)
	}

	attach(h, "a", 4)
	h.Disconnect("a")
	if err := h.JoinRoom("a", "g1"); !errors.Is(err, ErrUnknownConn) {
		t.Fatalf("closed: got %v want %v", err, ErrUnknownConn)
	}
}

func TestHub_LeaveAndDetachDropRooms(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	attach(h, "a", 4)
	attach(h, "b", 4)
	_ = h.JoinRoom("a", "g1")
	_ = h.JoinRoom("b", "g1")
	_ = h.JoinRoom("a", "g2")

	if err := h.LeaveRoom("b", "g1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := h.LeaveRoom("b", "g1"); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	if got := h.RoomMembers("g1"); len(got) != 1 || got[0] != "a" {
		t.Fatalf("g1 after leave: got %v want [a]", got)
	}

	h.Detach("a")
	if h.IsLive("a") {
		t.Fatalf("detached conn still live")
	}
	if got := h.RoomMembers("g1"); got != nil {
		t.Fatalf("g1 after detach: got %v want nil", got)
	}
	if got := h.RoomMembers("g2"); got != nil {
		t.Fatalf("g2 after detach: got %v want nil", got)
	}
	if !h.IsLive("b") {
		t.Fatalf("b should stay live")
	}
}

func TestRoom_Broadcast(t *testing.T) {
	t.Parallel()

	r := NewRoom("g1")
	full := NewClient("full", 1)
	ok := NewClient("ok", 2)
	full.Send <- v1.Envelope{}

	r.Join(full)
	r.Join(ok)
	r.Join(nil)

	if got := r.Len(); got != 2 {
		t.Fatalf("len: got %d want 2", got)
	}
	if n := r.Broadcast(v1.Envelope{Kind: v1.KindOnMsg}, ""); n != 1 {
		t.Fatalf("accepted: got %d want 1", n)
	}
	if !r.Has("ok") || r.Has("other") {
		t.Fatalf("membership mismatch")
	}
	if r.Leave("full") {
		t.Fatalf("room reported empty with one member left")
	}
	if !r.Leave("ok") {
		t.Fatalf("room not reported empty")
	}
}
