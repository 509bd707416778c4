package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies what an envelope carries.
type MessageType string

const (
	TypeConnect       MessageType = "CONNECT"
	TypeConnectionAck MessageType = "CONNECTION_ACK"
	TypeChatMessage   MessageType = "CHAT_MESSAGE"
	TypeTypingStart   MessageType = "TYPING_START"
	TypeTypingStop    MessageType = "TYPING_STOP"
	TypeDisconnect    MessageType = "DISCONNECT"
	TypeError         MessageType = "ERROR"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeConnect, TypeConnectionAck, TypeChatMessage,
		TypeTypingStart, TypeTypingStop, TypeDisconnect, TypeError:
		return true
	}
	return false
}

// Routed reports whether envelopes of this type are relayed to a receiver.
func (t MessageType) Routed() bool {
	return t == TypeChatMessage || t == TypeTypingStart || t == TypeTypingStop
}

// Error codes carried in ERROR envelopes.
const (
	CodeMalformed         = "malformed"
	CodeProtocolViolation = "protocol_violation"
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

var (
	// ErrMalformed is returned by Decode for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnexpectedData is returned when data does not match the envelope type.
	ErrUnexpectedData = errors.New("unexpected envelope data")
)

// Envelope is the unit exchanged between clients and the broker.
// A zero SenderID or ReceiverID means the field is absent.
type Envelope struct {
	Type       MessageType     `json:"type"`
	SenderID   int64           `json:"senderId,omitempty"`
	SenderName string          `json:"senderName,omitempty"`
	ReceiverID int64           `json:"receiverId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ConnectData is the handshake payload of a CONNECT envelope.
type ConnectData struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	Token    string `json:"token,omitempty"`
}

// AckData is the payload of CONNECTION_ACK.
type AckData struct {
	ConnectionID string `json:"connectionId"`
}

// Error describes a protocol-level error.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}

// Encode serializes an envelope to JSON.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses a frame into an envelope. Unknown types are rejected.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return &env, nil
}

// Text returns the chat text of a CHAT_MESSAGE envelope.
func (e *Envelope) Text() (string, error) {
	var text string
	if err := json.Unmarshal(e.Data, &text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnexpectedData, err)
	}
	return text, nil
}

// Connect returns the handshake payload of a CONNECT envelope.
func (e *Envelope) Connect() (ConnectData, error) {
	var data ConnectData
	if len(e.Data) == 0 {
		return data, ErrUnexpectedData
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrUnexpectedData, err)
	}
	return data, nil
}

// Err returns the error payload of an ERROR envelope.
func (e *Envelope) Err() *Error {
	var perr Error
	if err := json.Unmarshal(e.Data, &perr); err != nil || perr.Code == "" {
		return &Error{Code: CodeInternal, Msg: "unknown error"}
	}
	return &perr
}

// NewConnect builds the handshake envelope.
func NewConnect(data ConnectData) *Envelope {
	return &Envelope{Type: TypeConnect, Data: mustRaw(data), Timestamp: now()}
}

// NewAck builds the CONNECTION_ACK reply for an authenticated user.
func NewAck(userID int64, username, connectionID string) *Envelope {
	return &Envelope{
		Type:       TypeConnectionAck,
		ReceiverID: userID,
		SenderName: username,
		Data:       mustRaw(AckData{ConnectionID: connectionID}),
		Timestamp:  now(),
	}
}

// NewChat builds a CHAT_MESSAGE envelope.
func NewChat(senderID int64, senderName string, receiverID int64, text string) *Envelope {
	return &Envelope{
		Type:       TypeChatMessage,
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: receiverID,
		Data:       mustRaw(text),
		Timestamp:  now(),
	}
}

// NewTyping builds a TYPING_START or TYPING_STOP envelope.
func NewTyping(senderID int64, senderName string, receiverID int64, typing bool) *Envelope {
	t := TypeTypingStop
	if typing {
		t = TypeTypingStart
	}
	return &Envelope{
		Type:       t,
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: receiverID,
		Timestamp:  now(),
	}
}

// NewDisconnect builds a DISCONNECT envelope.
func NewDisconnect(senderID int64) *Envelope {
	return &Envelope{Type: TypeDisconnect, SenderID: senderID, Timestamp: now()}
}

// NewError builds an ERROR envelope.
func NewError(code, msg string) *Envelope {
	return &Envelope{Type: TypeError, Data: mustRaw(Error{Code: code, Msg: msg}), Timestamp: now()}
}

func now() time.Time {
	return time.Now().UTC()
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// only called with strings and plain structs
		panic(err)
	}
	return data
}
