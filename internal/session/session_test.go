package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/swiftim-go/core/internal/codec"
	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/observer"
	"github.com/swiftim-go/core/internal/wire"
)

// fakeServer accepts one connection, authenticates it, answers any
// SyncReq with an empty completed batch, answers SendMsgReq with a
// SendAck, and can push a KickOut frame on demand. Grounded on
// transport's fakeTCPServer (internal/transport/tcp_test.go).
type fakeServer struct {
	addr string
	ln   net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{addr: ln.Addr().String(), ln: ln}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		c := codec.New()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frames, decErr := c.Feed(buf[:n])
			if decErr != nil {
				return
			}
			for _, f := range frames {
				switch f.Command {
				case model.CommandAuthReq:
					resp := wire.AuthResponse{OK: true}.Encode()
					conn.Write(codec.Encode(model.CommandAuthRsp, f.Sequence, resp))
				case model.CommandSyncReq:
					batch := wire.BatchMessagesPayload{HasMore: false}.Encode()
					conn.Write(codec.Encode(model.CommandSyncRsp, f.Sequence, batch))
				case model.CommandSendMsgReq:
					ack := wire.SendAckPayload{ClientMsgID: "c1", MessageID: "srv-1"}.Encode()
					conn.Write(codec.Encode(model.CommandSendMsgRsp, f.Sequence, ack))
				}
			}
		}
	}()

	return fs
}

func (fs *fakeServer) stop() { fs.ln.Close() }

// newKickOutServer is a separate fake server (rather than an option on
// fakeServer) because it needs to hold the accepted conn open past
// Login so a later trigger can push a KickOut frame on it.
func newKickOutServer(t *testing.T) (addr string, trigger chan struct{}, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	trigger = make(chan struct{})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		c := codec.New()
		buf := make([]byte, 4096)
		go func() {
			<-trigger
			body := wire.KickOutPayload{Reason: "logged in elsewhere"}.Encode()
			conn.Write(codec.Encode(model.CommandKickOut, 0, body))
		}()
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frames, decErr := c.Feed(buf[:n])
			if decErr != nil {
				return
			}
			for _, f := range frames {
				switch f.Command {
				case model.CommandAuthReq:
					resp := wire.AuthResponse{OK: true}.Encode()
					conn.Write(codec.Encode(model.CommandAuthRsp, f.Sequence, resp))
				case model.CommandSyncReq:
					batch := wire.BatchMessagesPayload{HasMore: false}.Encode()
					conn.Write(codec.Encode(model.CommandSyncRsp, f.Sequence, batch))
				}
			}
		}
	}()

	return ln.Addr().String(), trigger, func() { ln.Close() }
}

type recordingListener struct {
	events chan model.Event
}

func (l *recordingListener) OnEvent(ev model.Event) {
	select {
	case l.events <- ev:
	default:
	}
}

func TestLoginConnectsAndSyncs(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.stop()

	s, err := New("tcp://"+fs.addr, ":memory:", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Logout()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Login(ctx, "u1", "tok"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if s.State() != model.StateConnected {
		t.Fatalf("expected StateConnected, got %v", s.State())
	}
}

func TestSendMessageRoundTripsAck(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.stop()

	s, err := New("tcp://"+fs.addr, ":memory:", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Logout()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Login(ctx, "u1", "tok"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	s.SendMessage(&model.Message{ClientMsgID: "c1", ConversationID: "conv1", Content: []byte("hi")})

	deadline := time.Now().Add(2 * time.Second)
	for s.queue.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.queue.Len() != 0 {
		t.Fatalf("expected queue drained after ack, still has %d entries", s.queue.Len())
	}
}

// TestKickOutTransitionsAndCancelsPending implements scenario S6:
// receiving a KickOut push must transition state to Disconnected,
// disable auto-reconnect, cancel pending requests with KickedOut, and
// notify observers exactly once.
func TestKickOutTransitionsAndCancelsPending(t *testing.T) {
	addr, trigger, stop := newKickOutServer(t)
	defer stop()

	s, err := New("tcp://"+addr, ":memory:", Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Logout()

	rl := &recordingListener{events: make(chan model.Event, 4)}
	var listener observer.Listener = rl
	s.Observer().Register("test-listener", &listener)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Login(ctx, "u1", "tok"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	close(trigger)

	var kickEvent *model.Event
	deadline := time.After(2 * time.Second)
	for kickEvent == nil {
		select {
		case ev := <-rl.events:
			if ev.Kind == model.EventKickedOut {
				e := ev
				kickEvent = &e
			}
		case <-deadline:
			t.Fatal("timed out waiting for kick-out event")
		}
	}

	if kickEvent.Kick == nil || kickEvent.Kick.Reason != "logged in elsewhere" {
		t.Fatalf("unexpected kick event: %+v", kickEvent)
	}

	deadline2 := time.Now().Add(2 * time.Second)
	for s.State() != model.StateDisconnected && time.Now().Before(deadline2) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != model.StateDisconnected {
		t.Fatalf("expected StateDisconnected after kick-out, got %v", s.State())
	}

	s.mu.Lock()
	ar := s.autoReconnect
	s.mu.Unlock()
	if ar {
		t.Fatal("expected auto-reconnect disabled after kick-out")
	}

	extra := 0
	drain := time.After(200 * time.Millisecond)
drainLoop:
	for {
		select {
		case ev := <-rl.events:
			if ev.Kind == model.EventKickedOut {
				extra++
			}
		case <-drain:
			break drainLoop
		}
	}
	if extra != 0 {
		t.Fatalf("expected exactly one kick-out notification, saw %d extra", extra)
	}
}
