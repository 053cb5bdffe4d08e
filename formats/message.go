package formats

import (
	"context"
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// Message is one line of Singer output.
type Message struct {
	Type               MessageType            `json:"type"`
	Stream             string                 `json:"stream,omitempty"`
	Record             map[string]interface{} `json:"record,omitempty"`
	TimeExtracted      *time.Time             `json:"time_extracted,omitempty"`
	Schema             json.RawMessage        `json:"schema,omitempty"`
	KeyProperties      []string               `json:"key_properties,omitempty"`
	BookmarkProperties []string               `json:"bookmark_properties,omitempty"`
	Value              interface{}            `json:"value,omitempty"`

	// Ack is called once the message and everything before it was written
	// and flushed to the output.
	Ack func() error `json:"-"`
}

// Formatter consumes messages until the channel is closed.
type Formatter interface {
	Run(ctx context.Context, msgs <-chan Message) error
}

func SchemaMessage(stream string, schema json.RawMessage, keys, bookmarks []string) Message {
	return Message{
		Type:               TypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keys,
		BookmarkProperties: bookmarks,
	}
}

func RecordMessage(stream string, record map[string]interface{}, extracted time.Time) Message {
	return Message{
		Type:          TypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: &extracted,
	}
}

func StateMessage(value interface{}, ack func() error) Message {
	return Message{
		Type:  TypeState,
		Value: value,
		Ack:   ack,
	}
}

func ack(msg Message) error {
	if msg.Ack == nil {
		return nil
	}
	return msg.Ack()
}

// flusher is implemented by buffered outputs.
type flusher interface {
	Flush() error
}
