package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode indicates what a submitted prompt means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
	PromptNewChat
)

// Prompt is the single-line input used for commands, list filters and
// opening a conversation by user id.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{
		InputField: input,
		theme:      theme,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			p.submit()
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})

	return p
}

func (p *Prompt) submit() {
	text := p.GetText()
	p.SetText("")
	if p.onSubmit != nil && text != "" {
		p.onSubmit(p.mode, text)
	} else if p.onCancel != nil {
		p.onCancel()
	}
}

// SetOnSubmit sets the callback when the prompt is submitted.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt is cancelled.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate shows the prompt in the specified mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.SetText("")
	p.SetAcceptanceFunc(nil)
	p.SetPlaceholder("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
		p.SetPlaceholder("new <id> | refresh | logout | help | quit")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
		p.SetPlaceholder("name, email or id")
	case PromptNewChat:
		p.SetLabel("user id: ")
		p.SetTitle(" New chat ")
		p.SetAcceptanceFunc(tview.InputFieldInteger)
	}
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}
