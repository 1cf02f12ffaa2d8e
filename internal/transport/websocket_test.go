package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/swiftim-go/core/internal/model"
	"github.com/swiftim-go/core/internal/wire"
)

// fakeWSServer upgrades every request and answers AuthReq/SendMsgReq the
// same way fakeTCPServer does, but framed as wire.Envelope over a single
// WebSocket binary frame per message (spec.md §4.2 "WebSocket variant").
func fakeWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				msg, op, err := wsutil.ReadClientData(conn)
				if err != nil {
					return
				}
				if op != ws.OpBinary {
					continue
				}
				cmd, seq, body, err := wire.DecodeEnvelope(msg)
				if err != nil {
					return
				}
				switch cmd {
				case model.CommandAuthReq:
					resp := wire.AuthResponse{OK: true}.Encode()
					out := wire.EncodeEnvelope(model.CommandAuthRsp, seq, resp)
					wsutil.WriteServerMessage(conn, ws.OpBinary, out)
				case model.CommandSendMsgReq:
					_ = body
					ack := wire.SendAckPayload{ClientMsgID: "c1", MessageID: "m1"}.Encode()
					out := wire.EncodeEnvelope(model.CommandSendMsgRsp, seq, ack)
					wsutil.WriteServerMessage(conn, ws.OpBinary, out)
				}
			}
		}()
	})
	return httptest.NewServer(mux)
}

func TestWSTransportConnectAuthAndRequest(t *testing.T) {
	srv := fakeWSServer(t)
	defer srv.Close()

	addr := "ws://" + strings.TrimPrefix(srv.URL, "http://")

	tr, err := New(addr, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, addr, Credentials{UserID: "u1", Token: "t1"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tr.State() != model.StateConnected {
		t.Fatalf("expected Connected, got %v", tr.State())
	}

	respBody, err := tr.Request(ctx, model.CommandSendMsgReq, wire.MessagePayload{ClientMsgID: "c1"}.Encode())
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
		t.Fatalf("expected Disconnected, got %v", tr.State())
	}
}

func TestWSTransportAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		_, seq, _, err := wire.DecodeEnvelope(msg)
		if err != nil {
			return
		}
		resp := wire.AuthResponse{OK: false, Reason: "bad token"}.Encode()
		out := wire.EncodeEnvelope(model.CommandAuthRsp, seq, resp)
		wsutil.WriteServerMessage(conn, ws.OpBinary, out)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	addr := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	tr, err := New(addr, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = tr.Connect(ctx, addr, Credentials{UserID: "u1", Token: "bad"})
	if err == nil {
		t.Fatalf("expected auth failure")
	}
	if model.Code(err) != model.ErrAuth {
		t.Fatalf("expected ErrAuth, got %v", model.Code(err))
	}
}
