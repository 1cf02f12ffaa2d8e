package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

// wsConn is one dialed WebSocket session. Unlike the TCP variant, the
// WebSocket already frames individual messages, so there is no Codec
// here: each inbound binary frame is exactly one wire.Envelope
// (spec.md §4.2 "WebSocket variant").
type wsConn struct {
	conn    net.Conn
	pending *pendingMap
	sendCh  chan []byte
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// wsTransport is the WebSocket Transport variant, grounded on the
// teacher's readPump/writePump split (internal/shared/pump_read.go,
// pump_write.go) adapted from gobwas/ws server-side accept to
// client-side ws.Dialer, and on its protobuf-free envelope replaced
// here by wire.EncodeEnvelope/DecodeEnvelope (spec.md §6).
type wsTransport struct {
	opts   Options
	seqGen *wire.SequenceGen

	mu    sync.Mutex
	state model.ConnState

	current atomic.Pointer[wsConn]
}

func newWSTransport(opts Options) *wsTransport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.AuthTimeout == 0 {
		opts.AuthTimeout = defaultAuthTimeout
	}
	return &wsTransport{opts: opts, seqGen: wire.NewSequenceGen()}
}

func (t *wsTransport) State() model.ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *wsTransport) setState(s model.ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	if t.opts.OnState != nil {
		t.opts.OnState(s)
	}
}

func (t *wsTransport) Connect(ctx context.Context, addr string, creds Credentials) error {
	t.setState(StateConnecting)

	dialAddr := addr
	if strings.HasPrefix(addr, "wss://") {
		dialAddr = "https://" + strings.TrimPrefix(addr, "wss://")
	} else if strings.HasPrefix(addr, "ws://") {
		dialAddr = "http://" + strings.TrimPrefix(addr, "ws://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	dialer := ws.Dialer{
		Timeout:   t.opts.DialTimeout,
		TLSConfig: t.opts.TLSConfig,
	}
	if dialer.TLSConfig == nil && strings.HasPrefix(dialAddr, "https://") {
		dialer.TLSConfig = &tls.Config{}
	}

	conn, _, _, err := dialer.Dial(dialCtx, dialAddr)
	if err != nil {
		t.setState(StateDisconnected)
		return model.Wrap(model.ErrTransport, "websocket dial failed", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	wc := &wsConn{
		conn:    conn,
		pending: newPendingMap(),
		sendCh:  make(chan []byte, 256),
		cancel:  loopCancel,
	}
	t.current.Store(wc)

	go t.readLoop(loopCtx, wc)
	go t.writeLoop(loopCtx, wc)

	authCtx, authCancel := context.WithTimeout(ctx, t.opts.AuthTimeout)
	defer authCancel()

	respBody, err := t.requestOn(authCtx, wc, model.CommandAuthReq, wire.AuthRequest{
		UserID: creds.UserID,
		Token:  creds.Token,
	}.Encode())
	if err != nil {
		t.teardown(wc, nil)
		t.setState(StateDisconnected)
		if authCtx.Err() != nil {
			return model.New(model.ErrTimeout, "auth timed out")
		}
		return model.Wrap(model.ErrAuth, "auth request failed", err)
	}

	resp, err := wire.DecodeAuthResponse(respBody)
	if err != nil || !resp.OK {
		reason := resp.Reason
		if err != nil {
			reason = "malformed auth response"
		}
		t.teardown(wc, nil)
		t.setState(StateDisconnected)
		return model.New(model.ErrAuth, reason)
	}

	t.seqGen.Reset()
	t.setState(StateConnected)
	return nil
}

// FailPending completes every in-flight Request with err without
// touching the connection itself; see tcpTransport.FailPending.
func (t *wsTransport) FailPending(err error) {
	wc := t.current.Load()
	if wc == nil {
		return
	}
	wc.pending.failAll(err)
}

func (t *wsTransport) Disconnect() {
	wc := t.current.Load()
	if wc == nil {
		return
	}
	t.teardown(wc, nil)
	t.setState(StateDisconnected)
}

func (t *wsTransport) teardown(wc *wsConn, err error) {
	if !wc.closed.CompareAndSwap(false, true) {
		return
	}
	wc.cancel()
	wc.conn.Close()
	wc.pending.failAll(nil)
	if err != nil && t.opts.OnFatal != nil {
		t.opts.OnFatal(err)
	}
}

func (t *wsTransport) Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error) {
	wc := t.current.Load()
	if wc == nil || wc.closed.Load() {
		return nil, model.New(model.ErrNotConnected, "no active connection")
	}
	return t.requestOn(ctx, wc, cmd, body)
}

func (t *wsTransport) requestOn(ctx context.Context, wc *wsConn, cmd model.Command, body []byte) ([]byte, error) {
	seq := t.seqGen.Next()
	ch := wc.pending.register(seq)

	if err := t.writeFrame(wc, cmd, seq, body); err != nil {
		wc.pending.forget(seq)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		wc.pending.forget(seq)
		return nil, model.Wrap(model.ErrTimeout, "request deadline exceeded", ctx.Err())
	}
}

func (t *wsTransport) SendFrame(cmd model.Command, body []byte) error {
	wc := t.current.Load()
	if wc == nil || wc.closed.Load() {
		return model.New(model.ErrNotConnected, "no active connection")
	}
	seq := t.seqGen.Next()
	return t.writeFrame(wc, cmd, seq, body)
}

func (t *wsTransport) writeFrame(wc *wsConn, cmd model.Command, seq uint32, body []byte) error {
	envelope := wire.EncodeEnvelope(cmd, seq, body)
	select {
	case wc.sendCh <- envelope:
		return nil
	default:
		return model.New(model.ErrTransport, "send buffer full")
	}
}

func (t *wsTransport) readLoop(ctx context.Context, wc *wsConn) {
	defer func() {
		if r := recover(); r != nil {
			t.teardown(wc, fmt.Errorf("transport: websocket read loop panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, op, err := wsutil.ReadServerData(wc.conn)
		if err != nil {
			t.teardown(wc, model.Wrap(model.ErrTransport, "websocket read failed", err))
			return
		}
		if op == ws.OpClose {
			t.teardown(wc, model.New(model.ErrTransport, "websocket closed by peer"))
			return
		}
		if op != ws.OpBinary {
			continue
		}

		cmd, seq, body, err := wire.DecodeEnvelope(msg)
		if err != nil {
			t.teardown(wc, model.Wrap(model.ErrProtocol, "fatal envelope decode error", err))
			return
		}

		if !wc.pending.resolve(seq, body) && t.opts.OnPush != nil {
			t.opts.OnPush(cmd, body)
		}
	}
}

func (t *wsTransport) writeLoop(ctx context.Context, wc *wsConn) {
	defer func() {
		if r := recover(); r != nil {
			t.teardown(wc, fmt.Errorf("transport: websocket write loop panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-wc.sendCh:
			if err := wsutil.WriteClientMessage(wc.conn, ws.OpBinary, envelope); err != nil {
				t.teardown(wc, model.Wrap(model.ErrTransport, "websocket write failed", err))
				return
			}
		}
	}
}
