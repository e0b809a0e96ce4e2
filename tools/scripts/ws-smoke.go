// Package main provides a CI-friendly WebSocket smoke test for imlast realtime.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack authentication with a locally minted dev token
//   - send_direct -> ack
//   - fanout message_new to the receiver
//   - idempotent dedupe by client_msg_id (duplicate ack, no second push)
//   - mark_read -> read_receipt back to the sender
//   - typing signal relayed to the room, not echoed to the origin
package main

import (
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

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

const (
	defaultSubprotocol = "imlast.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name     string
	conn     *websocket.Conn
	connID   string
	userID   string
	username string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret  = flag.String("secret", "", "Token secret shared with the server (IMLAST_TOKEN_SECRET)")
		issuer  = flag.String("issuer", "", "Token issuer claim (IMLAST_TOKEN_ISSUER, optional)")
		roomID  = flag.String("room", "dev-room-1", "Signal room to join for the typing check")
		text    = flag.String("text", "hello imlast 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*secret) == "" {
		fatalf("missing -secret (must match the server's IMLAST_TOKEN_SECRET)")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, mustToken(*secret, *issuer, "smoke-alice", "Alice"), *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, mustToken(*secret, *issuer, "smoke-bob", "Bob"), *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s (%s) B=%s (%s) origin=%q\n", a.connID, a.userID, b.connID, b.userID, *origin)
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())

	messageID := mustSendDirectAndAssertAck(root, a, b.userID, clientMsgID, *text, false, *timeout)

	mustAssertMessageNew(root, b, messageID, a.userID, *text, *timeout)

	// Retry with the same client_msg_id: duplicate ack, no second push.
	dupID := mustSendDirectAndAssertAck(root, a, b.userID, clientMsgID, *text, true, *timeout)
	if dupID != messageID {
		fatalf("dedupe: message id mismatch: first=%s second=%s", messageID, dupID)
	}
	mustAssertNoType(root, b, v1.TypeMessageNew, 1200*time.Millisecond)

	mustMarkReadAndAssertReceipt(root, b, a, messageID, *timeout)

	mustJoinRoom(root, a, *roomID, *timeout)
	mustJoinRoom(root, b, *roomID, *timeout)
	mustTypingRelay(root, a, b, *roomID, *timeout)

	fmt.Printf("OK: A=%s B=%s message_id=%s room=%s\n", a.connID, b.connID, messageID, *roomID)
}

// mustToken mints a short-lived HS256 token the way the identity service does.
func mustToken(secret, issuer, userID, username string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(10 * time.Minute).Unix(),
	}
	if strings.TrimSpace(issuer) != "" {
		claims["iss"] = issuer
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fatalf("mint token: %v", err)
	}
	return tok
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

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Token: token}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnID) == "" {
		fatalf("hello_ack missing conn_id (%s)", name)
	}
	if strings.TrimSpace(p.UserID) == "" {
		fatalf("hello_ack missing user_id (%s)", name)
	}
	c.connID = p.ConnID
	c.userID = p.UserID
	c.username = p.Username

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSendDirectAndAssertAck(parent context.Context, c *smokeClient, receiverID, clientMsgID, text string, wantDuplicate bool, stepTimeout time.Duration) string {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSendDirect,
		ID:   fmt.Sprintf("%s-send-%s", c.name, clientMsgID),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.SendDirectPayload{
			ReceiverID:  receiverID,
			ClientMsgID: clientMsgID,
			Body:        v1.MessageBody{Kind: v1.KindText, Text: text},
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypePresence: {}}
	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skip)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		fatalf("ack missing message_id (%s)", c.name)
	}
	if p.Duplicate != wantDuplicate {
		fatalf("ack duplicate mismatch (%s): got=%v want=%v", c.name, p.Duplicate, wantDuplicate)
	}
	if p.ServerTS.IsZero() {
		fatalf("ack server_ts missing/zero (%s)", c.name)
	}
	return p.MessageID
}

func mustAssertMessageNew(parent context.Context, c *smokeClient, messageID, senderID, text string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypePresence: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, skip)

	var p v1.MessagePushPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}
	if p.MessageID != messageID {
		fatalf("new message_id mismatch (%s): got=%q want=%q", c.name, p.MessageID, messageID)
	}
	if p.SenderID != senderID {
		fatalf("new sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Body.Text != text {
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Body.Text, text)
	}
	if p.ServerTS.IsZero() {
		fatalf("new server_ts missing/zero (%s)", c.name)
	}
}

func mustMarkReadAndAssertReceipt(parent context.Context, reader, sender *smokeClient, messageID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeMarkRead,
		ID:      fmt.Sprintf("%s-mark-read", reader.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.MarkReadPayload{MessageID: messageID}),
	}
	mustWriteWithTimeout(parent, reader.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypePresence: {}}
	receipt := sender.mustReadUntilType(parent, v1.TypeReadReceipt, stepTimeout, skip)

	var p v1.ReadReceiptPayload
	if err := json.Unmarshal(receipt.Payload, &p); err != nil {
		fatalf("unmarshal read_receipt payload (%s): %v", sender.name, err)
	}
	if p.MessageID != messageID {
		fatalf("receipt message_id mismatch (%s): got=%q want=%q", sender.name, p.MessageID, messageID)
	}
	if p.ReaderID != reader.userID {
		fatalf("receipt reader mismatch (%s): got=%q want=%q", sender.name, p.ReaderID, reader.userID)
	}
}

func mustJoinRoom(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRoomJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RoomJoinPayload{RoomID: roomID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypePresence: {}}
	echo := c.mustReadUntilType(parent, v1.TypeRoomJoin, stepTimeout, skip)

	var p v1.RoomJoinPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("join echo room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
}

func mustTypingRelay(parent context.Context, origin, peer *smokeClient, roomID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeTyping,
		ID:      fmt.Sprintf("%s-typing", origin.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.TypingPayload{RoomID: roomID, IsTyping: true}),
	}
	mustWriteWithTimeout(parent, origin.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypePresence: {}}
	signal := peer.mustReadUntilType(parent, v1.TypeTyping, stepTimeout, skip)

	var p v1.TypingPayload
	if err := json.Unmarshal(signal.Payload, &p); err != nil {
		fatalf("unmarshal typing payload (%s): %v", peer.name, err)
	}
	if p.RoomID != roomID {
		fatalf("typing room_id mismatch (%s): got=%q want=%q", peer.name, p.RoomID, roomID)
	}
	// The server stamps the sender identity; the client-provided one is ignored.
	if p.UserID != origin.userID {
		fatalf("typing user mismatch (%s): got=%q want=%q", peer.name, p.UserID, origin.userID)
	}
	if !p.IsTyping {
		fatalf("typing is_typing mismatch (%s)", peer.name)
	}

	// The origin must not see its own typing echo.
	mustAssertNoType(parent, origin, v1.TypeTyping, 1200*time.Millisecond)
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
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
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
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
