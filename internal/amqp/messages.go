package amqp

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType distinguishes what happened to a ledger.
type EventType string

const (
	EventLedgerSaved   EventType = "ledger.saved"
	EventLedgerDeleted EventType = "ledger.deleted"
)

// LedgerSyncMessage tells the export worker an owner's ledger changed.
// It carries no ledger data; the worker reloads the snapshot from storage.
type LedgerSyncMessage struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Owner     string    `json:"owner"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewLedgerSavedMessage creates a message for a committed snapshot version.
func NewLedgerSavedMessage(owner string, version int64) *LedgerSyncMessage {
	return newMessage(EventLedgerSaved, owner, version)
}

// NewLedgerDeletedMessage creates a message for a reset ledger.
func NewLedgerDeletedMessage(owner string, version int64) *LedgerSyncMessage {
	return newMessage(EventLedgerDeleted, owner, version)
}

func newMessage(typ EventType, owner string, version int64) *LedgerSyncMessage {
	now := time.Now().UTC()
	return &LedgerSyncMessage{
		ID:        newID(now),
		Type:      typ,
		Owner:     owner,
		Version:   version,
		Timestamp: now,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerSyncMessageFromJSON decodes and checks a message body.
func LedgerSyncMessageFromJSON(data []byte) (*LedgerSyncMessage, error) {
	var msg LedgerSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Owner == "" {
		return nil, fmt.Errorf("message %s has no owner", msg.ID)
	}
	if msg.Type != EventLedgerSaved && msg.Type != EventLedgerDeleted {
		return nil, fmt.Errorf("message %s has unknown type %q", msg.ID, msg.Type)
	}
	if _, err := ulid.ParseStrict(msg.ID); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &msg, nil
}
