package views

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows the profile, both channel states, notification counters
// and the current flash message.
type StatusBar struct {
	*tview.TextView
	theme    *ui.Theme
	profile  string
	channels map[string]status.State
	notes    notify.Snapshot
	flash    *ui.FlashMessage
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme, profile string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	sb := &StatusBar{
		TextView: tv,
		theme:    theme,
		profile:  profile,
		channels: make(map[string]status.State),
	}
	sb.render()
	return sb
}

// SetChannel records the state of one channel.
func (sb *StatusBar) SetChannel(name string, st status.State) {
	sb.channels[name] = st
	sb.render()
}

// SetNotifications updates the notification counters.
func (sb *StatusBar) SetNotifications(s notify.Snapshot) {
	sb.notes = s
	sb.render()
}

// SetFlash sets or clears (nil) the flash message.
func (sb *StatusBar) SetFlash(msg *ui.FlashMessage) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.text())
}

func (sb *StatusBar) text() string {
	parts := []string{fmt.Sprintf(" [::b]%s[-:-:-]", tview.Escape(sb.profile))}

	for _, name := range []string{"chat", "notify"} {
		st, ok := sb.channels[name]
		if !ok {
			st = status.Disconnected
		}
		color := sb.theme.ChannelDownColor
		if st == status.Open {
			color = sb.theme.ChannelUpColor
		}
		parts = append(parts, fmt.Sprintf("%s [%s]%s[-]", name, ui.Tag(color), strings.ToLower(string(st))))
	}

	counter := ui.Tag(sb.theme.CounterColor)
	notes := fmt.Sprintf("unread [%s]%d[-]", counter, sb.notes.Unread)
	cats := make([]string, 0, len(sb.notes.ByCategory))
	for c := range sb.notes.ByCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		notes += fmt.Sprintf(" %s [%s]%d[-]", strings.ToLower(tview.Escape(c)), counter, sb.notes.ByCategory[c])
	}
	parts = append(parts, notes)

	if sb.flash != nil {
		parts = append(parts, fmt.Sprintf("[%s]%s[-]", sb.theme.FlashColor(sb.flash.Level), tview.Escape(sanitizeForTerminal(sb.flash.Text))))
	}
	return strings.Join(parts, " | ")
}
