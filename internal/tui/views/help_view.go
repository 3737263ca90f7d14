package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpSection is one titled block of key hints.
type HelpSection struct {
	Title string
	Hints []ui.MenuHint
}

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	return &HelpView{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the given sections plus the command reference.
func (hv *HelpView) Update(sections []HelpSection) {
	hv.Clear()
	kc := ui.Tag(hv.theme.MenuKeyColor)

	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.Title)
		for _, h := range s.Hints {
			fmt.Fprintf(&b, "  [%s]%-8s[-:-:-] %s\n", kc, tview.Escape(h.Key), h.Description)
		}
	}
	fmt.Fprintf(&b, "\n  [::b]Commands (: mode)[-:-:-]\n\n")
	for _, c := range [][2]string{
		{":new <user id>", "Open a conversation by user id"},
		{":refresh", "Reload the conversation list"},
		{":logout", "Log out and quit"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	} {
		fmt.Fprintf(&b, "  [%s]%-16s[-:-:-] %s\n", kc, tview.Escape(c[0]), c[1])
	}
	_, _ = fmt.Fprint(hv, b.String())
}
