package transport

import (
	"fmt"
	"time"

	"avaneesh/malspp-go/pkg/header"
)

// Message is one logical MAL message: a secondary header and the
// encoded body, addressed from one endpoint to another.
type Message struct {
	Header *header.SecondaryHeader
	From   Address
	To     Address
	Body   []byte

	// Received is the arrival time of the packet that completed the
	// message. Zero for outgoing messages.
	Received time.Time
}

// String returns a short description of the message.
func (m *Message) String() string {
	return fmt.Sprintf("Message{%s %s->%s, %d bytes}", m.Header.SDUType, m.From, m.To, len(m.Body))
}

// Handler receives complete messages for an endpoint.
type Handler interface {
	OnMessage(msg *Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg *Message)

// OnMessage calls f.
func (f HandlerFunc) OnMessage(msg *Message) {
	f(msg)
}
