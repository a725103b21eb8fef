package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidContent     = errors.New("invalid message content")
)

// Message is the opaque envelope carried between peers. Content stays raw
// until it is decoded against the schema registered for Type.
type Message struct {
	Type            string          `json:"type"`
	SenderUserID    UserID          `json:"senderUserId"`
	SenderSessionID SessionID       `json:"senderSessionId"`
	Content         json.RawMessage `json:"content"`
}

// Sender returns the session that produced the message.
func (m Message) Sender() Session {
	return Session{UserID: m.SenderUserID, SessionID: m.SenderSessionID}
}

// SchemaRegistry maps a message type to the struct its content must decode
// into. Struct fields carry `validate` tags.
type SchemaRegistry struct {
	mu       sync.RWMutex
	schemas  map[string]func() any
	validate *validator.Validate
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		schemas:  make(map[string]func() any),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register binds msgType to a constructor returning a pointer to its content
// struct.
func (r *SchemaRegistry) Register(msgType string, newContent func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[msgType] = newContent
}

// Decode parses and validates the message content. The returned value is the
// pointer produced by the registered constructor.
func (r *SchemaRegistry) Decode(m Message) (any, error) {
	r.mu.RLock()
	newContent, ok := r.schemas[m.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	v := newContent()
	if err := json.Unmarshal(m.Content, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if err := r.validate.Struct(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return v, nil
}
