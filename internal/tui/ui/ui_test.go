package ui

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFlashExpires(t *testing.T) {
	now := time.Now()
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.Current() != nil {
		t.Fatal("new model has a flash")
	}
	f.Err(errors.New("boom"))
	m := f.Current()
	if m == nil || m.Text != "boom" || m.Level != FlashErr {
		t.Fatalf("Current() = %+v", m)
	}

	now = now.Add(11 * time.Second)
	if f.Current() != nil {
		t.Error("error flash outlived its duration")
	}
}

func TestPromptSubmit(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var gotMode PromptMode
	var gotText string
	p.SetOnSubmit(func(mode PromptMode, text string) {
		gotMode, gotText = mode, text
	})
	p.Activate(PromptNewChat)
	if p.Mode() != PromptNewChat || p.GetLabel() != "user id: " {
		t.Fatalf("mode %v label %q", p.Mode(), p.GetLabel())
	}
	p.SetText("42")
	p.submit()
	if gotMode != PromptNewChat || gotText != "42" {
		t.Errorf("submitted %v %q", gotMode, gotText)
	}
	if p.GetText() != "" {
		t.Error("prompt not cleared after submit")
	}
}

func TestFormatHints(t *testing.T) {
	out := FormatHints(DefaultTheme(), []MenuHint{{Key: "q", Description: "Quit"}, {Key: "Enter", Description: "Open"}})
	if !strings.Contains(out, "<q>") || !strings.Contains(out, "Quit") || !strings.Contains(out, "<Enter>") {
		t.Errorf("FormatHints = %q", out)
	}
	if strings.Index(out, "Quit") > strings.Index(out, "Open") {
		t.Error("hint order not preserved")
	}
}
