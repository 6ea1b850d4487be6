package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket subprotocols. Browsers speak JSON text frames, the CLI prefers
// msgpack binary frames.
const (
	SubprotocolJSON    = "warpcall.json"
	SubprotocolMsgpack = "warpcall.msgpack"
)

// Subprotocols lists what the server accepts, in order of preference.
var Subprotocols = []string{SubprotocolMsgpack, SubprotocolJSON}

// Codec converts messages to and from WebSocket frames.
type Codec interface {
	Name() string
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return SubprotocolJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode json message: %w", err)
	}
	return &msg, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return SubprotocolMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(msg *Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func (msgpackCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode msgpack message: %w", err)
	}
	return &msg, nil
}

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

// CodecFor returns the codec for a negotiated subprotocol. Connections that
// negotiated nothing (plain browsers) get JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return MsgpackCodec
	}
	return JSONCodec
}

// Decode decodes one frame by its frame type, so a client that ignores the
// negotiated subprotocol keeps working.
func Decode(frameType int, data []byte) (*Message, error) {
	if frameType == websocket.BinaryMessage {
		return MsgpackCodec.Decode(data)
	}
	return JSONCodec.Decode(data)
}

// WriteMessage encodes msg with codec and writes it as a single frame.
func WriteMessage(conn *websocket.Conn, codec Codec, msg *Message) error {
	data, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(codec.FrameType(), data)
}
