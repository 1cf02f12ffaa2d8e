package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swiftim-go/core/internal/codec"
	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultAuthTimeout = 30 * time.Second
)

// tcpConn is the mutable state of one dial: its socket, its private
// Codec (never shared across connections, spec.md §5), its pending
// request map and write queue. A fresh tcpConn is swapped in on every
// successful Connect so a stale read/write goroutine from a prior
// connection can never touch the new one.
type tcpConn struct {
	conn    net.Conn
	codec   *codec.Codec
	pending *pendingMap
	sendCh  chan []byte
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// tcpTransport is the framed-TCP Transport variant (spec.md §4.2,
// wire format in §6). Grounded on the teacher's readPump/writePump
// split (internal/shared/pump_read.go, pump_write.go): one goroutine
// drains the socket into the Codec, another drains a buffered write
// channel into the socket, and panics in either are never allowed to
// take the process down.
type tcpTransport struct {
	opts   Options
	seqGen *wire.SequenceGen

	mu    sync.Mutex
	state model.ConnState

	current atomic.Pointer[tcpConn]
}

func newTCPTransport(opts Options) *tcpTransport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.AuthTimeout == 0 {
		opts.AuthTimeout = defaultAuthTimeout
	}
	return &tcpTransport{opts: opts, seqGen: wire.NewSequenceGen()}
}

func (t *tcpTransport) State() model.ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tcpTransport) setState(s model.ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	if t.opts.OnState != nil {
		t.opts.OnState(s)
	}
}

func stripScheme(addr string) (string, bool, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", false, err
	}
	return u.Host, u.Scheme == "tcps", nil
}

func (t *tcpTransport) Connect(ctx context.Context, addr string, creds Credentials) error {
	t.setState(StateConnecting)

	host, useTLS, err := stripScheme(addr)
	if err != nil {
		t.setState(StateDisconnected)
		return model.Wrap(model.ErrTransport, "invalid address", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	var d net.Dialer
	rawConn, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		t.setState(StateDisconnected)
		return model.Wrap(model.ErrTransport, "dial failed", err)
	}

	conn := net.Conn(rawConn)
	if useTLS {
		tlsCfg := t.opts.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: strings.Split(host, ":")[0]}
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		if deadline, ok := dialCtx.Deadline(); ok {
			tlsConn.SetDeadline(deadline)
		}
		if err := tlsConn.Handshake(); err != nil {
			rawConn.Close()
			t.setState(StateDisconnected)
			return model.Wrap(model.ErrTransport, "tls handshake failed", err)
		}
		tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	tc := &tcpConn{
		conn:    conn,
		codec:   codec.New(),
		pending: newPendingMap(),
		sendCh:  make(chan []byte, 256),
		cancel:  loopCancel,
	}
	t.current.Store(tc)

	go t.readLoop(loopCtx, tc)
	go t.writeLoop(loopCtx, tc)

	authCtx, authCancel := context.WithTimeout(ctx, t.opts.AuthTimeout)
	defer authCancel()

	respBody, err := t.requestOn(authCtx, tc, model.CommandAuthReq, wire.AuthRequest{
		UserID: creds.UserID,
		Token:  creds.Token,
	}.Encode())
	if err != nil {
		t.teardown(tc, nil)
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
		t.teardown(tc, nil)
		t.setState(StateDisconnected)
		return model.New(model.ErrAuth, reason)
	}

	t.seqGen.Reset()
	t.setState(StateConnected)
	return nil
}

// FailPending completes every in-flight Request with err without
// touching the connection itself, used to inject a specific reason
// (e.g. ErrKickedOut) ahead of a Disconnect that would otherwise fail
// them with the generic NotConnected.
func (t *tcpTransport) FailPending(err error) {
	tc := t.current.Load()
	if tc == nil {
		return
	}
	tc.pending.failAll(err)
}

func (t *tcpTransport) Disconnect() {
	tc := t.current.Load()
	if tc == nil {
		return
	}
	t.teardown(tc, nil)
	t.setState(StateDisconnected)
}

// teardown closes the connection exactly once and fails every pending
// request with NotConnected. If err is non-nil (an unplanned drop) it
// is reported to OnFatal so Session/Reconnector can react.
func (t *tcpTransport) teardown(tc *tcpConn, err error) {
	if !tc.closed.CompareAndSwap(false, true) {
		return
	}
	tc.cancel()
	tc.conn.Close()
	tc.pending.failAll(nil)
	if err != nil && t.opts.OnFatal != nil {
		t.opts.OnFatal(err)
	}
}

func (t *tcpTransport) Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error) {
	tc := t.current.Load()
	if tc == nil || tc.closed.Load() {
		return nil, model.New(model.ErrNotConnected, "no active connection")
	}
	return t.requestOn(ctx, tc, cmd, body)
}

func (t *tcpTransport) requestOn(ctx context.Context, tc *tcpConn, cmd model.Command, body []byte) ([]byte, error) {
	seq := t.seqGen.Next()
	ch := tc.pending.register(seq)

	if err := t.writeFrame(tc, cmd, seq, body); err != nil {
		tc.pending.forget(seq)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		tc.pending.forget(seq)
		return nil, model.Wrap(model.ErrTimeout, "request deadline exceeded", ctx.Err())
	}
}

func (t *tcpTransport) SendFrame(cmd model.Command, body []byte) error {
	tc := t.current.Load()
	if tc == nil || tc.closed.Load() {
		return model.New(model.ErrNotConnected, "no active connection")
	}
	seq := t.seqGen.Next()
	return t.writeFrame(tc, cmd, seq, body)
}

func (t *tcpTransport) writeFrame(tc *tcpConn, cmd model.Command, seq uint32, body []byte) error {
	frame := codec.Encode(cmd, seq, body)
	select {
	case tc.sendCh <- frame:
		return nil
	default:
		return model.New(model.ErrTransport, "send buffer full")
	}
}

func (t *tcpTransport) readLoop(ctx context.Context, tc *tcpConn) {
	defer func() {
		if r := recover(); r != nil {
			t.teardown(tc, fmt.Errorf("transport: read loop panic: %v", r))
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := tc.conn.Read(buf)
		if err != nil {
			t.teardown(tc, model.Wrap(model.ErrTransport, "read failed", err))
			return
		}

		frames, decErr := tc.codec.Feed(buf[:n])
		for _, f := range frames {
			if !tc.pending.resolve(f.Sequence, f.Body) && t.opts.OnPush != nil {
				t.opts.OnPush(f.Command, f.Body)
			}
		}
		if decErr != nil {
			t.teardown(tc, model.Wrap(model.ErrProtocol, "fatal frame decode error", decErr))
			return
		}
	}
}

func (t *tcpTransport) writeLoop(ctx context.Context, tc *tcpConn) {
	defer func() {
		if r := recover(); r != nil {
			t.teardown(tc, fmt.Errorf("transport: write loop panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-tc.sendCh:
			if _, err := tc.conn.Write(frame); err != nil {
				t.teardown(tc, model.Wrap(model.ErrTransport, "write failed", err))
				return
			}
		}
	}
}
