package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []store.Conversation
	visible []store.Conversation
	filter  string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Update refreshes the list, keeping the cursor on the same peer if it is
// still visible.
func (cl *ConversationList) Update(convs []store.Conversation) {
	current, hadCurrent := cl.Selected()
	cl.convs = convs
	cl.render()
	if hadCurrent {
		for i, c := range cl.visible {
			if c.PeerID == current.PeerID {
				cl.Select(i+1, 0)
				return
			}
		}
	}
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.SetFilter("")
}

// Filter returns the active filter.
func (cl *ConversationList) Filter() string {
	return cl.filter
}

func (cl *ConversationList) matches(c store.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	return strings.Contains(strings.ToLower(c.DisplayName), f) ||
		strings.Contains(strings.ToLower(c.Email), f) ||
		strconv.FormatInt(int64(c.PeerID), 10) == cl.filter
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 2},
		{" EMAIL", 2},
		{" UNREAD", 0},
		{" PRESENCE", 1},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = cl.visible[:0]
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		name := DisplayName(c)
		if c.LocalOnly {
			name += " (new)"
		}
		nameCell := tview.NewTableCell(" " + tview.Escape(sanitizeForTerminal(name))).SetExpansion(2).SetTextColor(cl.theme.FgColor)
		unread := ""
		if c.UnreadCount > 0 {
			unread = strconv.Itoa(c.UnreadCount)
			nameCell.SetAttributes(tcell.AttrBold)
		}
		presenceColor := cl.theme.FgColor
		if c.Online {
			presenceColor = cl.theme.OnlineColor
		}

		cl.SetCell(row, 0, nameCell)
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.Email))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(unread).SetAlign(tview.AlignRight).SetTextColor(cl.theme.CounterColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+presence(c, time.Now())).SetExpansion(1).SetTextColor(presenceColor))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.visible), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the conversation under the cursor.
func (cl *ConversationList) Selected() (store.Conversation, bool) {
	row, _ := cl.GetSelection()
	return cl.At(row)
}

// At returns the conversation shown in the given 1-based row.
func (cl *ConversationList) At(row int) (store.Conversation, bool) {
	idx := row - 1 // account for header
	if idx < 0 || idx >= len(cl.visible) {
		return store.Conversation{}, false
	}
	return cl.visible[idx], true
}

// DisplayName is the label shown for a conversation.
func DisplayName(c store.Conversation) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return fmt.Sprintf("user %d", c.PeerID)
}

func presence(c store.Conversation, now time.Time) string {
	if c.Online {
		return "online"
	}
	if c.LastSeen == nil {
		return ""
	}
	return "seen " + formatTimestamp(*c.LastSeen, now)
}

func formatTimestamp(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
