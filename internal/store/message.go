package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Messages returns the active conversation's messages in insertion order.
func (s *Store) Messages() ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT message_id, peer_id, sender_id, body, sent_at, status
		FROM messages
		ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			m      Message
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.PeerID, &m.SenderID, &m.Text, &sentAt, &m.Status); err != nil {
			return nil, err
		}
		m.SentAt = time.UnixMilli(sentAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func insertMessage(ex interface {
	Exec(query string, args ...any) (sql.Result, error)
}, m Message) (bool, error) {
	if !m.Status.Valid() {
		return false, fmt.Errorf("message %s: invalid status %q", m.ID, m.Status)
	}
	res, err := ex.Exec(`
		INSERT INTO messages (message_id, peer_id, sender_id, body, sent_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		m.ID, m.PeerID, m.SenderID, m.Text, m.SentAt.UnixMilli(), m.Status)
	if err != nil {
		return false, fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddLocalMessage appends m to the active list. The list is append-only and
// never re-sorted, so the order of calls is the display order. A message
// whose id is already listed is not added again.
func (s *Store) AddLocalMessage(m Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil || s.selected.PeerID != m.PeerID {
		return false, ErrNoActiveConversation
	}
	added, err := insertMessage(s.db, m)
	if err != nil || !added {
		return false, err
	}
	s.messagesChanged()
	return true, nil
}

// ReplaceMessages installs msgs as the active list if gen is still the
// current selection generation. A stale generation means the user switched
// conversations while the fetch was in flight; the result is discarded and
// false returned.
//
// Locally originated messages that are sending, sent or not_read survive the
// replace and are listed after msgs in their original order. Failed local
// messages are dropped.
func (s *Store) ReplaceMessages(gen uint64, msgs []Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil || gen != s.generation {
		return false, nil
	}
	peer := s.selected.PeerID
	err := s.withTx(func(tx *sql.Tx) error {
		pending, err := pendingLocal(tx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		for _, m := range msgs {
			if m.PeerID != peer {
				continue
			}
			if _, err := insertMessage(tx, m); err != nil {
				return err
			}
		}
		for _, m := range pending {
			if _, err := insertMessage(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	s.messagesChanged()
	return true, nil
}

func pendingLocal(tx *sql.Tx) ([]Message, error) {
	rows, err := tx.Query(`
		SELECT message_id, peer_id, sender_id, body, sent_at, status
		FROM messages
		WHERE status IN (?, ?, ?)
		ORDER BY seq ASC`, Sending, Sent, NotRead)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []Message
	for rows.Next() {
		var (
			m      Message
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.PeerID, &m.SenderID, &m.Text, &sentAt, &m.Status); err != nil {
			return nil, err
		}
		if !m.ID.IsLocal() {
			continue
		}
		m.SentAt = time.UnixMilli(sentAt)
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

// UpdateMessageStatus moves message id to status to. An id that is not in
// the active list (for instance because the conversation was switched while
// a send was in flight) is a silent no-op, as is a change to the current
// status.
func (s *Store) UpdateMessageStatus(id MessageID, to MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current MessageStatus
	err := s.db.QueryRow(`SELECT status FROM messages WHERE message_id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read status %s: %w", id, err)
	}
	if current == to {
		return false, nil
	}
	if !current.CanTransition(to) {
		return false, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, id, current, to)
	}
	if _, err := s.db.Exec(`UPDATE messages SET status = ? WHERE message_id = ?`, to, id); err != nil {
		return false, fmt.Errorf("update status %s: %w", id, err)
	}
	s.messagesChanged()
	return true, nil
}

// MarkConversationAsRead moves every not_read or sent message in the active
// list to read and returns how many changed. Messages still sending or
// failed keep their status.
func (s *Store) MarkConversationAsRead() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markReadLocked()
}

// MarkConversationAsReadFor marks the active list read only if peer is the
// selected conversation; otherwise it changes nothing.
func (s *Store) MarkConversationAsReadFor(peer UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil || s.selected.PeerID != peer {
		return 0, nil
	}
	return s.markReadLocked()
}

func (s *Store) markReadLocked() (int, error) {
	res, err := s.db.Exec(`UPDATE messages SET status = ? WHERE status IN (?, ?)`, Read, NotRead, Sent)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.messagesChanged()
	}
	return int(n), nil
}

// IsMessageAlreadyInQueue reports whether id is in the active list.
func (s *Store) IsMessageAlreadyInQueue(id MessageID) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM messages WHERE message_id = ?`, id).Scan(&one)
	return err == nil
}
