// Package updates implements the outbound ScoreUpdateChannel. Decisions are
// validated, sequenced per producer, encoded and handed to a Transport that
// acknowledges them before Push returns.
package updates

import (
	"context"
	"strconv"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
)

// Message attribute keys.
const (
	AttrProducer = "producer"
	AttrSeq      = "seq"
	AttrInstance = "instance"
)

// Message is one encoded decision ready for a transport.
type Message struct {
	// Key partitions the stream; messages with the same key keep their order.
	Key        string
	Seq        uint64
	Decision   frontier.ScoreDecision
	Data       []byte
	Attributes map[string]string
}

// Transport delivers messages to the backend. Publish must not return before
// the backend acknowledged the message.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func newMessage(key, instance string, seq uint64, d frontier.ScoreDecision, data []byte) Message {
	attrs := map[string]string{
		AttrProducer: key,
		AttrSeq:      strconv.FormatUint(seq, 10),
	}
	if instance != "" {
		attrs[AttrInstance] = instance
	}
	return Message{Key: key, Seq: seq, Decision: d, Data: data, Attributes: attrs}
}
