// Package store holds the session's conversation list, the active
// conversation's messages and the Selected Conversation Pointer. It is the
// single writer for all three: other components go through its methods.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

var (
	// ErrNoActiveConversation is returned when a message is added for a peer
	// that is not the selected conversation.
	ErrNoActiveConversation = errors.New("no active conversation for message")
	// ErrIllegalTransition is returned for a status change the state machine forbids.
	ErrIllegalTransition = errors.New("illegal message status transition")
)

// Store is the session's conversation/message store.
type Store struct {
	db  *DB
	bus *bus.Bus

	// mu serializes mutations and guards the selection fields. Every
	// mutation that depends on which conversation is selected checks and
	// writes under it.
	mu         sync.Mutex
	selected   *Conversation
	generation uint64
}

// New creates a store over a migrated database.
func New(db *DB, b *bus.Bus) *Store {
	return &Store{db: db, bus: b}
}

// Close releases the underlying database, discarding the session's data.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) conversationsChanged() {
	s.bus.Emit(bus.KindConversationsChanged, nil)
}

func (s *Store) messagesChanged() {
	s.bus.Emit(bus.KindMessagesChanged, nil)
}
