// Package transport implements the Tcp and WebSocket connection
// variants of spec.md §4.2: socket I/O, optional TLS, framing (via
// codec for TCP, via wire.Envelope for WebSocket), connection-state
// transitions, and request/response correlation keyed by wire
// sequence.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/swiftim-go/core/internal/model"
)

// Credentials authenticate a connection at the application layer.
type Credentials struct {
	UserID string
	Token  string
}

// PushHandler receives frames that do not correlate to a pending
// Request (server-initiated pushes: PushMsg, TypingPush, KickOut, ...).
type PushHandler func(cmd model.Command, body []byte)

// StateHandler is notified on every connection state transition
// (spec.md §4.2 Disconnected -> Connecting -> Connected -> ...).
type StateHandler func(model.ConnState)

// Options configures either Transport variant.
type Options struct {
	DialTimeout    time.Duration
	AuthTimeout    time.Duration
	TLSConfig      *tls.Config
	OnState        StateHandler
	OnPush         PushHandler
	// OnFatal is invoked when either variant loses its connection
	// unplanned (read or write failure, a fatal framing/envelope error,
	// or a panic in its read/write loop): the transport tears itself
	// down and the caller (Session/Reconnector) decides whether to
	// redial. Disconnect does not invoke it.
	OnFatal func(error)
}

// Transport is the capability set both variants implement (spec.md §9
// "Polymorphic transport"): connect, disconnect, send, observe state.
type Transport interface {
	// Connect dials addr, performs the TLS handshake if the scheme
	// calls for it, and runs application-level authentication. On
	// success the transport is in StateConnected.
	Connect(ctx context.Context, addr string, creds Credentials) error

	// Disconnect disables auto-reconnect at the transport level,
	// fails every pending Request with NotConnected, and closes the
	// socket. Safe to call more than once.
	Disconnect()

	// Request allocates the next wire sequence, writes a frame, and
	// blocks until a response frame with the same sequence arrives or
	// ctx is done. Used for Auth/Heartbeat/Sync request-response
	// pairs; resolves end-to-end, unlike SendFrame.
	Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error)

	// SendFrame encodes a frame with the next sequence number and hands
	// it to the connection's write goroutine. It returns once the frame
	// is queued, before the socket write happens, so a later write
	// failure is not reported to this caller (it tears the connection
	// down and reaches OnFatal instead). It does not wait for any
	// server ACK, which is OutboundQueue's job (spec.md §4.2). A full
	// send buffer returns an error.
	SendFrame(cmd model.Command, body []byte) error

	// FailPending completes every in-flight Request with err ahead of
	// a Disconnect, so the caller (Session, reacting to KickOut) can
	// surface a specific reason instead of the generic NotConnected
	// Disconnect would otherwise use (spec.md §8 scenario S6).
	FailPending(err error)

	State() model.ConnState
}

// Scheme classifies a connection URL into the transport variant that
// handles it (spec.md §4.2 "URL scheme").
type Scheme int

const (
	SchemeTCP Scheme = iota
	SchemeTCPTLS
	SchemeWS
	SchemeWSS
)

func ParseScheme(addr string) (Scheme, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return 0, fmt.Errorf("transport: invalid url %q: %w", addr, err)
	}
	switch u.Scheme {
	case "tcp":
		return SchemeTCP, nil
	case "tcps":
		return SchemeTCPTLS, nil
	case "ws":
		return SchemeWS, nil
	case "wss":
		return SchemeWSS, nil
	default:
		return 0, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

// New builds the Transport variant matching addr's scheme.
func New(addr string, opts Options) (Transport, error) {
	scheme, err := ParseScheme(addr)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeTCP, SchemeTCPTLS:
		return newTCPTransport(opts), nil
	case SchemeWS, SchemeWSS:
		return newWSTransport(opts), nil
	default:
		return nil, fmt.Errorf("transport: unreachable scheme %d", scheme)
	}
}
