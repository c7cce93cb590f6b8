// Package hub fans engine output out to dashboard websocket clients
// using a channel-based broadcast loop.
package hub

import (
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// Message is one encoded frame queued for clients.
type Message struct {
	Type protocol.MessageType // For logging and filtering
	Data []byte
}

// Encode builds a Message from a protocol message.
func Encode(msg *protocol.Message) (Message, error) {
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msg.Type, Data: data}, nil
}
