// Package notify keeps the counters fed by the notification channel.
package notify

import (
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/transport"
)

// DefaultRecentLimit bounds the recent summaries kept by NewCounters.
const DefaultRecentLimit = 20

// Summary is one out-of-band notification as shown to the user.
type Summary struct {
	Kind     string
	Category string
	SenderID int64
	Title    string
	Text     string
	At       time.Time
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	Unread     int
	ByCategory map[string]int
	Recent     []Summary
}

// Counters aggregates notification frames. It is independent of the
// message store.
type Counters struct {
	mu         sync.Mutex
	unread     int
	byCategory map[string]int
	recent     []Summary
	limit      int

	bus     *bus.Bus
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ transport.NotifyHandler = (*Counters)(nil)

// NewCounters creates counters keeping at most limit recent summaries.
func NewCounters(limit int, b *bus.Bus, m *metrics.Metrics) *Counters {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Counters{
		byCategory: make(map[string]int),
		limit:      limit,
		bus:        b,
		metrics:    m,
		now:        time.Now,
	}
}

// HandleUnreadCount replaces the aggregate unread count.
func (c *Counters) HandleUnreadCount(f protocol.UnreadCountFrame) {
	c.mu.Lock()
	c.unread = max(f.Count, 0)
	c.mu.Unlock()
	c.metrics.SetNotifyUnread(max(f.Count, 0))
	c.changed()
}

// HandleMessageNotification records a message summary. The aggregate count
// is left to the next UNREAD_COUNT frame.
func (c *Counters) HandleMessageNotification(f protocol.MessageNotificationFrame) {
	at := f.SentDate.Time
	if at.IsZero() {
		at = c.now()
	}
	c.push(Summary{
		Kind:     protocol.TypeMessageNotification,
		SenderID: f.SenderID,
		Title:    f.SenderName,
		Text:     f.MessageContent,
		At:       at,
	})
	c.changed()
}

// HandleEvent counts an administrative event by category and records it.
func (c *Counters) HandleEvent(f protocol.EventFrame) {
	c.mu.Lock()
	c.byCategory[f.Category]++
	c.mu.Unlock()
	c.push(Summary{
		Kind:     protocol.TypeEvent,
		Category: f.Category,
		Title:    f.Title,
		Text:     f.Action,
		At:       c.now(),
	})
	c.changed()
}

func (c *Counters) push(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, s)
	if over := len(c.recent) - c.limit; over > 0 {
		c.recent = append(c.recent[:0:0], c.recent[over:]...)
	}
}

// Snapshot returns a copy of the current counters. Recent is oldest first.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[string]int, len(c.byCategory))
	for k, v := range c.byCategory {
		by[k] = v
	}
	return Snapshot{
		Unread:     c.unread,
		ByCategory: by,
		Recent:     append([]Summary(nil), c.recent...),
	}
}

func (c *Counters) changed() {
	c.bus.Emit(bus.KindNotifyUpdated, c.Snapshot())
}
