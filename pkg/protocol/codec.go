package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: building cbor encode mode: %v", err))
	}
	encMode = mode
}

// DecodeClientMessage parses one inbound frame.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding client message: %w", err)
	}
	return &msg, nil
}

// EncodeServerMessage serializes one outbound frame.
func EncodeServerMessage(msg *ServerMessage) ([]byte, error) {
	data, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	return data, nil
}

// EncodeClientMessage serializes one frame in the daemon-to-tracker
// direction.
func EncodeClientMessage(msg *ClientMessage) ([]byte, error) {
	data, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	return data, nil
}

// DecodeServerMessage parses one frame in the tracker-to-daemon direction.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding server message: %w", err)
	}
	return &msg, nil
}
