// Package main provides a CI-friendly WebSocket smoke test for the parley realtime listener.
//
// It validates:
//   - handshake + subprotocol selection with a userInfo identity
//   - send_msg -> ack carrying the stored msgId
//   - on_msg delivery to the receiver only
//   - group fan-out through the admin API (when -admin is set)
//   - ack_chat_message -> ack
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "parley/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name     string
	username string
	conn     *websocket.Conn
	seq      int

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:3030/ws", "WebSocket URL")
		adminURL = flag.String("admin", "", "Admin base URL, e.g. http://127.0.0.1:6080 (enables the group step)")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text     = flag.String("text", "hello parley 👋", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()
	userA := fmt.Sprintf("smoke-a-%d", suffix)
	userB := fmt.Sprintf("smoke-b-%d", suffix)

	a := mustConnect(root, "A", userA, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", userB, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	// Registration runs after the upgrade; give it a moment before routing to B.
	time.Sleep(200 * time.Millisecond)

	msgID := mustSend(root, a, v1.Routing{
		ReceiverName: userB,
		SendType:     v1.SendSingle,
		PayloadType:  v1.PayloadText,
		Content:      *text,
	}, *timeout)
	if *verbose {
		fmt.Printf("sent single msgId=%d\n", msgID)
	}

	got := mustReadMessage(root, b, *timeout)
	if got.MsgID != msgID || got.SenderName != userA || got.Content != *text {
		fatalf("on_msg mismatch: got msgId=%d sender=%q content=%q", got.MsgID, got.SenderName, got.Content)
	}
	mustAssertNoKind(root, a, v1.KindOnMsg, 300*time.Millisecond)

	mustRequest(root, b, v1.KindAckChatMessage, v1.AckMessagePayload{ReceiverName: userB, MsgID: msgID}, *timeout)

	if *adminURL != "" {
		groupID := fmt.Sprintf("smoke-g-%d", suffix)
		mustAdmin(root, *adminURL, "/chatroom/create", v1.GroupRequest{
			GroupID: groupID,
			Group:   &v1.GroupInfo{Name: "smoke", MemberCount: 2},
			Members: []v1.Member{{Username: userA}, {Username: userB}},
		}, *timeout)

		groupMsg := mustSend(root, a, v1.Routing{
			GroupID:     groupID,
			SenderName:  userA,
			SendType:    v1.SendMass,
			PayloadType: v1.PayloadText,
			Content:     *text,
		}, *timeout)

		got := mustReadMessage(root, b, *timeout)
		if got.MsgID != groupMsg || got.GroupID != groupID {
			fatalf("group on_msg mismatch: got msgId=%d group=%q", got.MsgID, got.GroupID)
		}
		mustAssertNoKind(root, a, v1.KindOnMsg, 300*time.Millisecond)

		mustAdmin(root, *adminURL, "/chatroom/delete", v1.DeleteGroupRequest{GroupID: groupID}, *timeout)
		if *verbose {
			fmt.Printf("group fan-out ok group=%s msgId=%d\n", groupID, groupMsg)
		}
	}

	fmt.Println("OK")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, username, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	identity, _ := json.Marshal(v1.Identity{Username: username, DeviceClass: v1.DevicePrimary})
	u, _ := url.Parse(wsURL)
	q := u.Query()
	q.Set(v1.IdentityParam, string(identity))
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:     name,
		username: username,
		conn:     conn,
		inbox:    make(chan v1.Envelope, 512),
		errCh:    make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	fail := func(err error) {
		select {
		case c.errCh <- err:
		default:
		}
	}

	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				fail(err)
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != v1.Version || env.Kind == "" {
				fail(fmt.Errorf("bad envelope: v=%d kind=%q", env.V, env.Kind))
				return
			}

			select {
			case c.inbox <- env:
			default:
				fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

// mustRequest sends one client event and waits for its successful ack.
func mustRequest(parent context.Context, c *smokeClient, kind string, payload any, stepTimeout time.Duration) v1.Reply {
	c.seq++
	id := fmt.Sprintf("%s-%d", c.name, c.seq)
	mustWriteWithTimeout(parent, c.conn, v1.Envelope{
		V:       v1.Version,
		Kind:    kind,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}, stepTimeout)

	skip := map[string]struct{}{v1.KindOnMsg: {}, v1.KindOnNotification: {}}
	for {
		env := c.mustReadUntilKind(parent, v1.KindAck, stepTimeout, skip)
		if env.ReplyTo != id {
			continue
		}
		var r v1.Reply
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			fatalf("unmarshal ack (%s): %v", c.name, err)
		}
		if r.Code != v1.CodeSuccess {
			fatalf("%s rejected (%s): code=%d msg=%q", kind, c.name, r.Code, r.Msg)
		}
		return r
	}
}

func mustSend(parent context.Context, c *smokeClient, r v1.Routing, stepTimeout time.Duration) int64 {
	reply := mustRequest(parent, c, v1.KindSendMsg, v1.MessagePayload{Routing: r}, stepTimeout)

	raw, _ := json.Marshal(reply.Data)
	var p v1.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		fatalf("unmarshal send_msg ack data (%s): %v", c.name, err)
	}
	if p.MsgID <= 0 {
		fatalf("send_msg ack missing msgId (%s)", c.name)
	}
	return p.MsgID
}

func mustReadMessage(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.MessagePayload {
	env := c.mustReadUntilKind(parent, v1.KindOnMsg, stepTimeout, nil)
	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal on_msg (%s): %v", c.name, err)
	}
	return p
}

func mustAdmin(parent context.Context, base, path string, body any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+path, bytes.NewReader(mustJSON(body)))
	if err != nil {
		fatalf("admin %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("admin %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var r v1.Reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		fatalf("admin %s: decode: %v", path, err)
	}
	if resp.StatusCode != http.StatusOK || r.Code != v1.CodeSuccess {
		fatalf("admin %s: status=%d code=%d msg=%q", path, resp.StatusCode, r.Code, r.Msg)
	}
}

func mustAssertNoKind(parent context.Context, c *smokeClient, forbidden string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Kind == forbidden {
				fatalf("unexpected %s received (%s)", forbidden, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilKind(parent context.Context, want string, stepTimeout time.Duration, skip map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", want, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", want, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", want, c.name)
			}
			if env.Kind == want {
				return env
			}
			if env.Kind == v1.KindError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skip[env.Kind]; ok {
				continue
			}
			fatalf("unexpected envelope kind (%s): got=%q want=%q", c.name, env.Kind, want)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Kind, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
