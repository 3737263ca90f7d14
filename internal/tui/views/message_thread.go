package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays the active conversation and its composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	self     store.UserID
	messages *tview.TextView
	composer *tview.InputField
	peerName string
	onSend   func(text string)
}

// NewMessageThread creates a new message thread view. Messages sent by self
// are labelled "You".
func NewMessageThread(theme *ui.Theme, self store.UserID) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		self:     self,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			mt.submit()
		}
	})

	return mt
}

// submit clears the input before handing the text to onSend.
func (mt *MessageThread) submit() {
	if mt.onSend == nil {
		return
	}
	text := mt.composer.GetText()
	if strings.TrimSpace(text) == "" {
		return
	}
	mt.composer.SetText("")
	mt.onSend(text)
}

// SetPeerName updates the title.
func (mt *MessageThread) SetPeerName(name string) {
	mt.peerName = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders msgs in display (insertion) order.
func (mt *MessageThread) Update(msgs []store.Message) {
	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, mt.render(msgs, time.Now()))
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) render(msgs []store.Message, now time.Time) string {
	var b strings.Builder
	for _, m := range msgs {
		sender := mt.peerName
		color := ui.Tag(mt.theme.FgColor)
		glyph := ""
		if m.SenderID == mt.self {
			sender = "You"
			color = ui.Tag(mt.theme.OwnMessageColor)
			glyph = " " + StatusGlyph(m.Status)
		}
		if sender == "" {
			sender = fmt.Sprintf("user %d", m.SenderID)
		}
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			color,
			tview.Escape(sanitizeForTerminal(sender)),
			formatTimestamp(m.SentAt, now),
			glyph,
			tview.Escape(sanitizeForTerminal(m.Text)))
	}
	return b.String()
}

// StatusGlyph is the marker shown next to an own message.
func StatusGlyph(s store.MessageStatus) string {
	switch s {
	case store.Sending:
		return "[::d]...[-:-:-]"
	case store.NotRead:
		return "✓"
	case store.Sent:
		return "✓·"
	case store.Read:
		return "✓✓"
	case store.Failed:
		return "[red]![-]"
	default:
		return ""
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
