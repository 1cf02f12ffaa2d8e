package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/swiftim-go/core/internal/codec"
	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

// fakeTCPServer accepts one connection, replies OK to AuthReq, answers
// every SendMsgReq with a fixed SendMsgRsp, and, when pushOnAuth is set,
// pushes one unsolicited PushMsg frame right after the auth reply.
func fakeTCPServer(t *testing.T, pushOnAuth bool) (addr string, pushed chan struct{}, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	pushed = make(chan struct{}, 1)

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
					if pushOnAuth {
						push := codec.Encode(model.CommandPushMsg, 0, wire.MessagePayload{MessageID: "srv-1"}.Encode())
						conn.Write(push)
						pushed <- struct{}{}
					}
				case model.CommandSendMsgReq:
					ack := wire.SendAckPayload{ClientMsgID: "c1", MessageID: "m1"}.Encode()
					conn.Write(codec.Encode(model.CommandSendMsgRsp, f.Sequence, ack))
				}
			}
		}
	}()

	return ln.Addr().String(), pushed, func() { ln.Close() }
}

func TestTCPTransportConnectAuthAndRequest(t *testing.T) {
	addr, _, stop := fakeTCPServer(t, false)
	defer stop()

	var gotPush []model.Command
	tr, err := New("tcp://"+addr, Options{
		OnPush: func(cmd model.Command, body []byte) { gotPush = append(gotPush, cmd) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "tcp://"+addr, Credentials{UserID: "u1", Token: "t1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tr.State() != model.StateConnected {
		t.Fatalf("expected Connected, got %v", tr.State())
	}

	reqBody := wire.MessagePayload{ClientMsgID: "c1"}.Encode()
	respBody, err := tr.Request(ctx, model.CommandSendMsgReq, reqBody)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	ack, err := wire.DecodeSendAckPayload(respBody)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.MessageID != "m1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	tr.Disconnect()
	if tr.State() != model.StateDisconnected {
		t.Fatalf("expected Disconnected after Disconnect, got %v", tr.State())
	}
}

func TestTCPTransportPushDeliveredToHandler(t *testing.T) {
	addr, pushed, stop := fakeTCPServer(t, true)
	defer stop()

	pushCh := make(chan model.Command, 1)
	tr, err := New("tcp://"+addr, Options{
		OnPush: func(cmd model.Command, body []byte) { pushCh <- cmd },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "tcp://"+addr, Credentials{UserID: "u1", Token: "t1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	<-pushed
	select {
	case cmd := <-pushCh:
		if cmd != model.CommandPushMsg {
			t.Fatalf("expected PushMsg, got %v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for push")
	}
}

func TestTCPTransportAuthFailureReturnsErrAuth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		c := codec.New()
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		frames, _ := c.Feed(buf[:n])
		for _, f := range frames {
			if f.Command == model.CommandAuthReq {
				resp := wire.AuthResponse{OK: false, Reason: "bad token"}.Encode()
				conn.Write(codec.Encode(model.CommandAuthRsp, f.Sequence, resp))
			}
		}
	}()

	tr, err := New("tcp://"+ln.Addr().String(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = tr.Connect(ctx, "tcp://"+ln.Addr().String(), Credentials{UserID: "u1", Token: "bad"})
	if err == nil {
		t.Fatalf("expected auth failure")
	}
	if model.Code(err) != model.ErrAuth {
		t.Fatalf("expected ErrAuth, got %v", model.Code(err))
	}
	if tr.State() != model.StateDisconnected {
		t.Fatalf("expected Disconnected after failed auth, got %v", tr.State())
	}
}

func TestTCPTransportDisconnectFailsPendingRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
		c := codec.New()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frames, _ := c.Feed(buf[:n])
			for _, f := range frames {
				if f.Command == model.CommandAuthReq {
					resp := wire.AuthResponse{OK: true}.Encode()
					conn.Write(codec.Encode(model.CommandAuthRsp, f.Sequence, resp))
				}
				// SendMsgReq is intentionally never answered.
			}
		}
	}()

	tr, err := New("tcp://"+ln.Addr().String(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "tcp://"+ln.Addr().String(), Credentials{UserID: "u1", Token: "t1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), model.CommandSendMsgReq, nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	tr.Disconnect()

	select {
	case err := <-done:
		if model.Code(err) != model.ErrNotConnected {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("request never completed after disconnect")
	}
}
