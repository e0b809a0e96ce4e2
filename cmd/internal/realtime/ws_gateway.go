package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
	"github.com/yesuf435/imlast/cmd/internal/auth"
)

const (
	wsSubprotocolV1 = "imlast.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// ErrNotRecipient is returned when a reader tries to mark a message that was
// never addressed to them.
var ErrNotRecipient = errors.New("realtime: not a message recipient")

// WSGateway is the WebSocket entrypoint for imlast realtime.
//
// It enforces origin policy, subprotocol selection, the authenticate-first
// handshake, rate limits, and heartbeats, and dispatches validated envelopes
// to the Registry, Router, RoomSet, PresenceTracker and MessageStore.
type WSGateway struct {
	log      *slog.Logger
	verifier auth.Verifier
	registry *Registry
	router   *Router
	rooms    *RoomSet
	presence *PresenceTracker
	store    MessageStore
	groups   GroupProvider

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	authWindow time.Duration

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// WSGatewayDeps bundles the collaborators of the gateway.
type WSGatewayDeps struct {
	Verifier auth.Verifier
	Registry *Registry
	Router   *Router
	Rooms    *RoomSet
	Presence *PresenceTracker
	Store    MessageStore
	Groups   GroupProvider
}

// NewWSGateway constructs a gateway with secure defaults.
// The verifier is mandatory; nil store/groups fall back to in-memory
// implementations for dev.
func NewWSGateway(log *slog.Logger, deps WSGatewayDeps) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Verifier == nil {
		return nil, errors.New("realtime: nil verifier")
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(log)
	}
	if deps.Router == nil {
		deps.Router = NewRouter(log, deps.Registry)
	}
	if deps.Rooms == nil {
		deps.Rooms = NewRoomSet(log)
	}
	if deps.Store == nil {
		deps.Store = NewInMemoryStore()
	}
	if deps.Groups == nil {
		deps.Groups = NewInMemoryDirectory()
	}

	g := &WSGateway{
		log:      log,
		verifier: deps.Verifier,
		registry: deps.Registry,
		router:   deps.Router,
		rooms:    deps.Rooms,
		presence: deps.Presence,
		store:    deps.Store,
		groups:   deps.Groups,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("IMLAST_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("IMLAST_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("IMLAST_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// IMPORTANT:
	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("IMLAST_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("IMLAST_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("IMLAST_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.authWindow = envDurationWS("IMLAST_WS_AUTH_WINDOW", authWindow)

	g.heartbeatEvery = envDurationWS("IMLAST_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("IMLAST_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("IMLAST_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("IMLAST_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Authenticate-first: the first frame must be a valid hello within the
	// auth window. No registry or room state exists before this succeeds.
	client, err := g.awaitHello(ctx, conn)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.writeRejection(ctx, conn, authErrorCode(err), err.Error())
		_ = conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return
	}

	tr, err := g.registry.Register(client)
	if err != nil {
		g.log.Error("ws.register.fail", "conn_id", client.ID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		return
	}
	if g.presence != nil {
		g.presence.HandleTransition(tr)
	}

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Teardown order matters: rooms first, then registry (which may produce
	// the offline transition), then the client and the socket.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.rooms.LeaveAll(client.ID)

			offTr := g.registry.Deregister(client.ID)
			if g.presence != nil {
				g.presence.HandleTransition(offTr)
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.log.Info("ws.session.open",
		"conn_id", client.ID,
		"user_id", client.UserID,
		"username", client.Username,
	)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", client.ID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "malformed frame")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if ok, retryAfter := rl.Allow(now); !ok {
			g.trySendError(ctx, client, "rate_limited",
				fmt.Sprintf("too many events; retry in %s", retryAfter.Round(time.Millisecond)))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			// Already authenticated; a second hello is a protocol error.
			g.trySendError(ctx, client, "already_authenticated", "hello already completed")

		case v1.TypeSendDirect:
			if err := g.onSendDirect(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeSendGroup:
			if err := g.onSendGroup(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeRoomJoin:
			if err := g.onRoomJoin(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
				continue readLoop
			}

		case v1.TypeRoomLeave:
			if err := g.onRoomLeave(client, env); err != nil {
				g.trySendError(ctx, client, "leave_failed", err.Error())
				continue readLoop
			}

		case v1.TypeTyping:
			if err := g.onTyping(client, env, now); err != nil {
				g.trySendError(ctx, client, "typing_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMarkRead:
			if err := g.onMarkRead(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "mark_read_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handshake ----

// awaitHello reads the first frame, requires it to be a valid hello, verifies
// the token, and returns the authenticated client. The hello ack is written
// directly because the writer goroutine does not exist yet.
func (g *WSGateway) awaitHello(ctx context.Context, conn *websocket.Conn) (*Client, error) {
	authCtx, authCancel := context.WithTimeout(ctx, g.authWindow)
	defer authCancel()

	env, err := readEnvelope(authCtx, conn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New("auth window expired")
		}
		return nil, fmt.Errorf("hello read: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("hello envelope: %w", err)
	}
	if env.Type != v1.TypeHello {
		return nil, fmt.Errorf("expected %s, got %s", v1.TypeHello, env.Type)
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.Token) == "" {
		return nil, errors.New("missing token")
	}

	id, err := g.verifier.Verify(authCtx, p.Token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	connID, err := NewConnID(now)
	if err != nil {
		return nil, err
	}
	client := NewClient(connID, id.UserID, id.Username, g.sendQueueSize)

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{
		ConnID:   client.ID,
		UserID:   client.UserID,
		Username: client.Username,
	})
	ack, err := NewServerEnvelope(v1.TypeHelloAck, ackPayload, now)
	if err != nil {
		return nil, err
	}
	if err := writeEnvelope(ctx, conn, ack, g.writeTimeout); err != nil {
		return nil, fmt.Errorf("hello ack: %w", err)
	}
	return client, nil
}

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, auth.ErrTokenInvalid):
		return "token_invalid"
	default:
		return "auth_failed"
	}
}

// writeRejection sends a best-effort error envelope before closing a
// connection that never became a registered client.
func (g *WSGateway) writeRejection(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env, err := NewServerEnvelope(v1.TypeError, p, time.Now().UTC())
	if err != nil {
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.writeTimeout)
}

// ---- handlers ----

func (g *WSGateway) onSendDirect(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.SendDirectPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	receiverID := strings.TrimSpace(p.ReceiverID)
	if receiverID == "" {
		return errors.New("missing receiver_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}
	if err := validateBodySize(p.Body); err != nil {
		return err
	}

	res, err := g.store.Append(ctx, AppendInput{
		ClientMsgID: p.ClientMsgID,
		SenderID:    client.UserID,
		SenderName:  client.Username,
		ReceiverID:  receiverID,
		Body:        p.Body,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}

	if err := g.sendAck(ctx, client, res, now); err != nil {
		return err
	}
	if res.Duplicated {
		return nil
	}

	pushEnv, err := newMessagePush(v1.TypeMessageNew, res.Stored, now)
	if err != nil {
		return err
	}
	if _, err := g.router.Route(Outbound{Env: pushEnv}, DirectTarget(receiverID)); err != nil {
		return err
	}
	return nil
}

func (g *WSGateway) onSendGroup(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.SendGroupPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	groupID := strings.TrimSpace(p.GroupID)
	if groupID == "" {
		return errors.New("missing group_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}
	if err := validateBodySize(p.Body); err != nil {
		return err
	}

	ok, err := g.groups.IsMember(ctx, client.UserID, groupID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return errors.New("not a group member")
	}

	res, err := g.store.Append(ctx, AppendInput{
		ClientMsgID: p.ClientMsgID,
		SenderID:    client.UserID,
		SenderName:  client.Username,
		GroupID:     groupID,
		Body:        p.Body,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}

	if err := g.sendAck(ctx, client, res, now); err != nil {
		return err
	}
	if res.Duplicated {
		return nil
	}

	members, err := g.groups.MembersOf(ctx, groupID)
	if err != nil {
		return fmt.Errorf("members lookup: %w", err)
	}

	pushEnv, err := newMessagePush(v1.TypeGroupMessageNew, res.Stored, now)
	if err != nil {
		return err
	}
	// Exclude the originating connection only: the sender's other devices
	// still receive the push.
	if _, err := g.router.Route(Outbound{Env: pushEnv, ExcludeConnID: client.ID}, GroupTarget(groupID, members)); err != nil {
		return err
	}
	return nil
}

func (g *WSGateway) onRoomJoin(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.RoomJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}

	g.rooms.Join(client, roomID)

	echoPayload, _ := json.Marshal(v1.RoomJoinPayload{RoomID: roomID})
	echo, err := NewServerEnvelope(v1.TypeRoomJoin, echoPayload, time.Now().UTC())
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, echo) {
		return errors.New("backpressure: join echo")
	}
	return nil
}

func (g *WSGateway) onRoomLeave(client *Client, env v1.Envelope) error {
	var p v1.RoomLeavePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}

	g.rooms.Leave(client.ID, roomID)
	return nil
}

func (g *WSGateway) onTyping(client *Client, env v1.Envelope, now time.Time) error {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}

	// The server, not the client, decides who is typing.
	out, _ := json.Marshal(v1.TypingPayload{
		RoomID:   roomID,
		UserID:   client.UserID,
		Username: client.Username,
		IsTyping: p.IsTyping,
	})
	signal, err := NewServerEnvelope(v1.TypeTyping, out, now)
	if err != nil {
		return err
	}

	g.rooms.Signal(roomID, signal, client.ID)
	return nil
}

func (g *WSGateway) onMarkRead(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.MarkReadPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	messageID := strings.TrimSpace(p.MessageID)
	if messageID == "" {
		return errors.New("missing message_id")
	}

	// Reads are reader-scoped: holding a message id is not enough.
	msg, err := g.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := g.authorizeRead(ctx, client.UserID, msg); err != nil {
		return err
	}

	msg, err = g.store.MarkRead(ctx, messageID, client.UserID)
	if err != nil {
		return err
	}

	receiptPayload, _ := json.Marshal(v1.ReadReceiptPayload{
		MessageID: msg.ID,
		ReaderID:  client.UserID,
		ReadAt:    now,
	})
	receipt, err := NewServerEnvelope(v1.TypeReadReceipt, receiptPayload, now)
	if err != nil {
		return err
	}
	if _, err := g.router.Route(Outbound{Env: receipt}, DirectTarget(msg.SenderID)); err != nil {
		return err
	}
	return nil
}

// authorizeRead decides whether readerID may mark msg read: the addressed
// receiver for a direct message, any current member for a group message.
func (g *WSGateway) authorizeRead(ctx context.Context, readerID string, msg StoredMessage) error {
	switch {
	case msg.ReceiverID != "":
		if readerID != msg.ReceiverID {
			return ErrNotRecipient
		}
	case msg.GroupID != "":
		ok, err := g.groups.IsMember(ctx, readerID, msg.GroupID)
		if err != nil {
			return fmt.Errorf("membership check: %w", err)
		}
		if !ok {
			return ErrNotRecipient
		}
	default:
		return errors.New("message has no target")
	}
	return nil
}

// ---- send helpers ----

func (g *WSGateway) sendAck(ctx context.Context, client *Client, res AppendResult, now time.Time) error {
	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		ClientMsgID: res.Stored.ClientMsgID,
		MessageID:   res.Stored.ID,
		ServerTS:    res.Stored.ServerTS,
		Duplicate:   res.Duplicated,
	})
	ack, err := NewServerEnvelope(v1.TypeMessageAck, ackPayload, now)
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: ack")
	}
	return nil
}

func newMessagePush(typ string, m StoredMessage, now time.Time) (v1.Envelope, error) {
	p, err := json.Marshal(v1.MessagePushPayload{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Body:       m.Body,
		ServerTS:   m.ServerTS,
	})
	if err != nil {
		return v1.Envelope{}, err
	}
	return NewServerEnvelope(typ, p, now)
}

func validateBodySize(b v1.MessageBody) error {
	if b.Kind == v1.KindText || b.Kind == v1.KindEmoji {
		if len([]rune(b.Text)) > maxMessageChars {
			return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
		}
	}
	return nil
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env, err := NewServerEnvelope(v1.TypeError, p, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// Decode failures cover frames that are not JSON at all and frames that
	// are valid JSON of the wrong shape. Either way the fault is one frame,
	// not the connection.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
