package wire

import (
	"reflect"
	"testing"

	"github.com/swiftim-go/core/internal/model"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		cmd  model.Command
		seq  uint32
		body []byte
	}{
		{model.CommandHeartbeatReq, 1, nil},
		{model.CommandPushMsg, 2, []byte("hello")},
		{model.CommandSyncRsp, 0xFFFFFFFF, make([]byte, 4*1024*1024)},
	}
	for _, c := range cases {
		enc := EncodeEnvelope(c.cmd, c.seq, c.body)
		cmd, seq, body, err := DecodeEnvelope(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cmd != c.cmd || seq != c.seq || !reflect.DeepEqual(body, c.body) {
			t.Fatalf("round trip mismatch: got (%v,%v,len=%d) want (%v,%v,len=%d)", cmd, seq, len(body), c.cmd, c.seq, len(c.body))
		}
	}
}

func TestMessagePayloadRoundTrip(t *testing.T) {
	m := MessagePayload{
		MessageID:        "m1",
		ClientMsgID:      "c1",
		ConversationID:   "conv1",
		ConversationType: 1,
		SenderID:         "u1",
		ReceiverID:       "u2",
		MessageType:      "text",
		Content:          []byte("hi"),
		Seq:              42,
		SendTime:         100,
		ServerTime:       101,
	}
	got, err := DecodeMessagePayload(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestBatchMessagesPayloadRoundTrip(t *testing.T) {
	b := BatchMessagesPayload{
		Messages: []MessagePayload{
			{MessageID: "m1", Seq: 1},
			{MessageID: "m2", Seq: 2},
		},
		HasMore:      true,
		ServerMaxSeq: 250,
	}
	got, err := DecodeBatchMessagesPayload(b.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Messages) != 2 || got.ServerMaxSeq != 250 || !got.HasMore {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAuthPayloadsRoundTrip(t *testing.T) {
	req := AuthRequest{UserID: "u1", Token: "tok"}
	gotReq, err := DecodeAuthRequest(req.Encode())
	if err != nil || gotReq != req {
		t.Fatalf("auth request round trip failed: %+v err=%v", gotReq, err)
	}

	rsp := AuthResponse{OK: false, Reason: "bad token"}
	gotRsp, err := DecodeAuthResponse(rsp.Encode())
	if err != nil || gotRsp != rsp {
		t.Fatalf("auth response round trip failed: %+v err=%v", gotRsp, err)
	}
}

func TestTypingPayloadRoundTrip(t *testing.T) {
	p := TypingPayload{ConversationID: "c1", UserID: "u1", IsTyping: true}
	got, err := DecodeTypingPayload(p.Encode())
	if err != nil || got != p {
		t.Fatalf("round trip failed: %+v err=%v", got, err)
	}
}
