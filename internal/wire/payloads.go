package wire

// This file defines the domain payloads nested in a frame body, per
// command (spec.md §6 command catalogue). Each has a small, stable set
// of protobuf-tagged fields encoded/decoded via Writer/Reader.

// AuthRequest is the AuthReq body.
type AuthRequest struct {
	UserID string
	Token  string
}

func (p AuthRequest) Encode() []byte {
	var w Writer
	w.String(1, p.UserID)
	w.String(2, p.Token)
	return w.Bytes_()
}

func DecodeAuthRequest(data []byte) (AuthRequest, error) {
	var p AuthRequest
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.UserID = r.String()
		case 2:
			p.Token = r.String()
		}
	}
	return p, nil
}

// AuthResponse is the AuthRsp body.
type AuthResponse struct {
	OK     bool
	Reason string
}

func (p AuthResponse) Encode() []byte {
	var w Writer
	w.Bool(1, p.OK)
	w.String(2, p.Reason)
	return w.Bytes_()
}

func DecodeAuthResponse(data []byte) (AuthResponse, error) {
	var p AuthResponse
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.OK = r.Bool()
		case 2:
			p.Reason = r.String()
		}
	}
	return p, nil
}

// MessagePayload carries a chat message on the wire, both client->server
// (SendMsgReq) and server->client (PushMsg / BatchMsg entries).
type MessagePayload struct {
	MessageID        string
	ClientMsgID      string
	ConversationID   string
	ConversationType int32
	SenderID         string
	ReceiverID       string
	GroupID          string
	MessageType      string
	Content          []byte
	Seq              int64
	SendTime         int64
	ServerTime       int64
}

func (p MessagePayload) Encode() []byte {
	var w Writer
	w.String(1, p.MessageID)
	w.String(2, p.ClientMsgID)
	w.String(3, p.ConversationID)
	w.Varint(4, uint64(p.ConversationType))
	w.String(5, p.SenderID)
	w.String(6, p.ReceiverID)
	w.String(7, p.GroupID)
	w.String(8, p.MessageType)
	w.Bytes(9, p.Content)
	w.Int64(10, p.Seq)
	w.Int64(11, p.SendTime)
	w.Int64(12, p.ServerTime)
	return w.Bytes_()
}

func DecodeMessagePayload(data []byte) (MessagePayload, error) {
	var p MessagePayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.MessageID = r.String()
		case 2:
			p.ClientMsgID = r.String()
		case 3:
			p.ConversationID = r.String()
		case 4:
			p.ConversationType = int32(r.Uint64())
		case 5:
			p.SenderID = r.String()
		case 6:
			p.ReceiverID = r.String()
		case 7:
			p.GroupID = r.String()
		case 8:
			p.MessageType = r.String()
		case 9:
			p.Content = r.Bytes()
		case 10:
			p.Seq = r.Int64()
		case 11:
			p.SendTime = r.Int64()
		case 12:
			p.ServerTime = r.Int64()
		}
	}
	return p, nil
}

// SendAckPayload is the SendMsgRsp body: server confirms acceptance of
// a client_msg_id and assigns the server message_id.
type SendAckPayload struct {
	ClientMsgID string
	MessageID   string
	ServerTime  int64
}

func (p SendAckPayload) Encode() []byte {
	var w Writer
	w.String(1, p.ClientMsgID)
	w.String(2, p.MessageID)
	w.Int64(3, p.ServerTime)
	return w.Bytes_()
}

func DecodeSendAckPayload(data []byte) (SendAckPayload, error) {
	var p SendAckPayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.ClientMsgID = r.String()
		case 2:
			p.MessageID = r.String()
		case 3:
			p.ServerTime = r.Int64()
		}
	}
	return p, nil
}

// BatchMessagesPayload is the BatchMsg / SyncRsp body.
type BatchMessagesPayload struct {
	Messages     []MessagePayload
	HasMore      bool
	ServerMaxSeq int64
}

func (p BatchMessagesPayload) Encode() []byte {
	var w Writer
	for _, m := range p.Messages {
		w.Message(1, m.Encode())
	}
	w.Bool(2, p.HasMore)
	w.Int64(3, p.ServerMaxSeq)
	return w.Bytes_()
}

func DecodeBatchMessagesPayload(data []byte) (BatchMessagesPayload, error) {
	var p BatchMessagesPayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			m, err := DecodeMessagePayload(r.Bytes())
			if err != nil {
				return p, err
			}
			p.Messages = append(p.Messages, m)
		case 2:
			p.HasMore = r.Bool()
		case 3:
			p.ServerMaxSeq = r.Int64()
		}
	}
	return p, nil
}

// SyncRequest is the SyncReq body: incremental sync from FromSeq.
type SyncRequest struct {
	FromSeq   int64
	BatchSize int32
}

func (p SyncRequest) Encode() []byte {
	var w Writer
	w.Int64(1, p.FromSeq)
	w.Varint(2, uint64(p.BatchSize))
	return w.Bytes_()
}

func DecodeSyncRequest(data []byte) (SyncRequest, error) {
	var p SyncRequest
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.FromSeq = r.Int64()
		case 2:
			p.BatchSize = int32(r.Uint64())
		}
	}
	return p, nil
}

// SyncRangeRequest is the SyncRangeReq body: bounded [FromSeq, ToSeq]
// re-sync window.
type SyncRangeRequest struct {
	FromSeq int64
	ToSeq   int64
}

func (p SyncRangeRequest) Encode() []byte {
	var w Writer
	w.Int64(1, p.FromSeq)
	w.Int64(2, p.ToSeq)
	return w.Bytes_()
}

func DecodeSyncRangeRequest(data []byte) (SyncRangeRequest, error) {
	var p SyncRangeRequest
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.FromSeq = r.Int64()
		case 2:
			p.ToSeq = r.Int64()
		}
	}
	return p, nil
}

// RevokePayload is shared by RevokeReq and RevokePush.
type RevokePayload struct {
	ConversationID string
	MessageID      string
	RevokedBy      string
	RevokedTime    int64
}

func (p RevokePayload) Encode() []byte {
	var w Writer
	w.String(1, p.ConversationID)
	w.String(2, p.MessageID)
	w.String(3, p.RevokedBy)
	w.Int64(4, p.RevokedTime)
	return w.Bytes_()
}

func DecodeRevokePayload(data []byte) (RevokePayload, error) {
	var p RevokePayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.ConversationID = r.String()
		case 2:
			p.MessageID = r.String()
		case 3:
			p.RevokedBy = r.String()
		case 4:
			p.RevokedTime = r.Int64()
		}
	}
	return p, nil
}

// ReadReceiptPayload is shared by ReadReceiptReq/Rsp/Push.
type ReadReceiptPayload struct {
	ConversationID string
	ReaderID       string
	ReadTime       int64
}

func (p ReadReceiptPayload) Encode() []byte {
	var w Writer
	w.String(1, p.ConversationID)
	w.String(2, p.ReaderID)
	w.Int64(3, p.ReadTime)
	return w.Bytes_()
}

func DecodeReadReceiptPayload(data []byte) (ReadReceiptPayload, error) {
	var p ReadReceiptPayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.ConversationID = r.String()
		case 2:
			p.ReaderID = r.String()
		case 3:
			p.ReadTime = r.Int64()
		}
	}
	return p, nil
}

// TypingPayload is the TypingPush body.
type TypingPayload struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

func (p TypingPayload) Encode() []byte {
	var w Writer
	w.String(1, p.ConversationID)
	w.String(2, p.UserID)
	w.Bool(3, p.IsTyping)
	return w.Bytes_()
}

func DecodeTypingPayload(data []byte) (TypingPayload, error) {
	var p TypingPayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		switch tag {
		case 1:
			p.ConversationID = r.String()
		case 2:
			p.UserID = r.String()
		case 3:
			p.IsTyping = r.Bool()
		}
	}
	return p, nil
}

// KickOutPayload is the KickOut push body.
type KickOutPayload struct {
	Reason string
}

func (p KickOutPayload) Encode() []byte {
	var w Writer
	w.String(1, p.Reason)
	return w.Bytes_()
}

func DecodeKickOutPayload(data []byte) (KickOutPayload, error) {
	var p KickOutPayload
	r := NewReader(data)
	for {
		tag, ok, err := r.Next()
		if err != nil {
			return p, err
		}
		if !ok {
			break
		}
		if tag == 1 {
			p.Reason = r.String()
		}
	}
	return p, nil
}
