package store

import (
	"database/sql"
	"fmt"
	"time"
)

const conversationColumns = `peer_id, display_name, email, online, last_seen, local_only, unread_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (Conversation, error) {
	var (
		c        Conversation
		lastSeen sql.NullInt64
	)
	if err := r.Scan(&c.PeerID, &c.DisplayName, &c.Email, &c.Online, &lastSeen, &c.LocalOnly, &c.UnreadCount); err != nil {
		return c, err
	}
	if lastSeen.Valid {
		t := time.UnixMilli(lastSeen.Int64)
		c.LastSeen = &t
	}
	return c, nil
}

func lastSeenValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// Conversations returns the conversation list in display order.
func (s *Store) Conversations() ([]Conversation, error) {
	return listConversations(s.db)
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func listConversations(q querier) ([]Conversation, error) {
	rows, err := q.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Conversation returns the conversation with peer, or nil when unknown.
func (s *Store) Conversation(peer UserID) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE peer_id = ?`, peer))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MergeConversations replaces the conversation list with the server's list.
// Local-only conversations the server did not return are kept ahead of the
// server entries in their current order; a local-only conversation the
// server did return becomes an ordinary one. Unread counters survive.
// Applying the same server list twice yields the same result.
func (s *Store) MergeConversations(server []Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh *Conversation
	err := s.withTx(func(tx *sql.Tx) error {
		current, err := listConversations(tx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}

		inServer := make(map[UserID]bool, len(server))
		for _, c := range server {
			inServer[c.PeerID] = true
		}
		unread := make(map[UserID]int, len(current))
		var merged []Conversation
		for _, c := range current {
			unread[c.PeerID] = c.UnreadCount
			if c.LocalOnly && !inServer[c.PeerID] {
				merged = append(merged, c)
			}
		}
		seen := make(map[UserID]bool, len(server))
		for _, c := range server {
			if seen[c.PeerID] {
				continue
			}
			seen[c.PeerID] = true
			c.LocalOnly = false
			c.UnreadCount = unread[c.PeerID]
			merged = append(merged, c)
		}

		if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
			return fmt.Errorf("clear conversations: %w", err)
		}
		for i, c := range merged {
			c := c
			if _, err := tx.Exec(`
				INSERT INTO conversations (peer_id, display_name, email, online, last_seen, position, local_only, unread_count)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.PeerID, c.DisplayName, c.Email, c.Online, lastSeenValue(c.LastSeen), i, c.LocalOnly, c.UnreadCount); err != nil {
				return fmt.Errorf("insert conversation %d: %w", c.PeerID, err)
			}
			if s.selected != nil && s.selected.PeerID == c.PeerID {
				fresh = &c
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if fresh != nil {
		// The active conversation's unread counter stays at zero.
		fresh.UnreadCount = s.selected.UnreadCount
		s.selected = fresh
	}
	s.conversationsChanged()
	return nil
}

// AddNewUserToConversation puts c at the head of the list as a local-only
// conversation. It is a no-op when the peer is already listed.
func (s *Store) AddNewUserToConversation(c Conversation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO conversations (peer_id, display_name, email, online, last_seen, position, local_only, unread_count)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MIN(position), 0) - 1 FROM conversations), 1, 0)
		ON CONFLICT(peer_id) DO NOTHING`,
		c.PeerID, c.DisplayName, c.Email, c.Online, lastSeenValue(c.LastSeen))
	if err != nil {
		return false, fmt.Errorf("add conversation %d: %w", c.PeerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	s.conversationsChanged()
	return true, nil
}

// IncrementUnread bumps the unread counter of a known conversation. Unknown
// peers are ignored.
func (s *Store) IncrementUnread(peer UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE conversations SET unread_count = unread_count + 1 WHERE peer_id = ?`, peer)
	if err != nil {
		return false, fmt.Errorf("increment unread %d: %w", peer, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	s.conversationsChanged()
	return true, nil
}

// SetSelectedUser makes c the active conversation. The active message list
// is cleared, c's unread counter reset, and a new generation returned. A
// history fetch issued for this selection must present that generation to
// ReplaceMessages.
func (s *Store) SetSelectedUser(c Conversation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		if _, err := tx.Exec(`UPDATE conversations SET unread_count = 0 WHERE peer_id = ?`, c.PeerID); err != nil {
			return fmt.Errorf("reset unread: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sel := c
	sel.UnreadCount = 0
	s.selected = &sel
	s.generation++
	gen := s.generation

	s.conversationsChanged()
	s.messagesChanged()
	return gen, nil
}

// ClearSelectedUser drops the selection and the active message list.
func (s *Store) ClearSelectedUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	s.selected = nil
	s.generation++
	s.messagesChanged()
	return nil
}

// Selected returns the active conversation and its generation.
func (s *Store) Selected() (Conversation, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return Conversation{}, s.generation, false
	}
	return *s.selected, s.generation, true
}

// IsSelected reports whether peer is the active conversation.
func (s *Store) IsSelected(peer UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected != nil && s.selected.PeerID == peer
}
