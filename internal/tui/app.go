package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageList   = "conversations"
	pageThread = "thread"
	pageHelp   = "help"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	layout    *tview.Flex
	vm        *model.ViewModel
	theme     *ui.Theme
	registry  *keys.Registry
	statusBar *views.StatusBar
	menu      *ui.Menu
	prompt    *ui.Prompt
	convList  *views.ConversationList
	thread    *views.MessageThread
	help      *views.HelpView
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		theme:     theme,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(theme, profile),
		menu:      ui.NewMenu(theme),
		prompt:    ui.NewPrompt(theme),
		convList:  views.NewConversationList(theme),
		thread:    views.NewMessageThread(theme, vm.Self()),
		help:      views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "Quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: "Command", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?',
		Description: "Help", Visible: true,
		Handler: a.showHelp,
	})

	a.registry.AddView(pageList, &keys.Action{
		Key: tcell.KeyEnter, Label: "Enter",
		Description: "Open", Visible: true,
		Handler: a.openSelected,
	})
	a.registry.AddView(pageList, &keys.Action{
		Key: tcell.KeyRune, Rune: 'n',
		Description: "New chat", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptNewChat) },
	})
	a.registry.AddView(pageList, &keys.Action{
		Key: tcell.KeyRune, Rune: '/',
		Description: "Filter", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageList, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "Refresh", Visible: true,
		Handler: a.refresh,
	})
	a.registry.AddView(pageList, &keys.Action{
		Key: tcell.KeyRune, Rune: 'L',
		Description: "Logout", Visible: true,
		Handler: a.logout,
	})

	a.registry.AddView(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "Compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageThread, &keys.Action{
		Key: tcell.KeyEscape, Label: "Esc",
		Description: "Back", Visible: true,
		Handler: a.showList,
	})
	a.registry.AddView(pageHelp, &keys.Action{
		Key: tcell.KeyEscape, Label: "Esc",
		Description: "Back", Visible: true,
		Handler: a.showList,
	})
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(func(text string) {
		msg, err := a.vm.Queue(text)
		if err != nil {
			a.render()
			return
		}
		go func() {
			a.vm.Deliver(a.ctx, msg)
			a.app.QueueUpdateDraw(a.render)
		}()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.convList.SetFilter(text)
		case ui.PromptNewChat:
			a.openUser(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageList, a.convList, true, true)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.menu, 1, 0, false)

	a.app.SetRoot(a.layout, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()

		if focused == a.prompt.InputField {
			return event
		}
		if focused == a.thread.Composer() {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}

		currentPage, _ := a.pages.GetFrontPage()
		if currentPage == pageList && event.Key() == tcell.KeyEscape && a.convList.Filter() != "" {
			a.convList.ClearFilter()
			return nil
		}
		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.layout.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt.InputField)
}

func (a *App) hidePrompt() {
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.focusPage()
}

func (a *App) focusPage() {
	switch page, _ := a.pages.GetFrontPage(); page {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageHelp:
		a.app.SetFocus(a.help)
	default:
		a.app.SetFocus(a.convList)
	}
}

func (a *App) switchTo(page string) {
	a.pages.SwitchToPage(page)
	a.focusPage()
	a.menu.Update(a.registry.Hints(page))
}

func (a *App) showList() {
	if page, _ := a.pages.GetFrontPage(); page == pageThread {
		a.vm.Deselect()
	}
	a.switchTo(pageList)
}

func (a *App) showHelp() {
	a.help.Update([]views.HelpSection{
		{Title: "Conversation List", Hints: a.registry.Hints(pageList)},
		{Title: "Message Thread", Hints: a.registry.Hints(pageThread)},
	})
	a.switchTo(pageHelp)
}

func (a *App) openSelected() {
	c, ok := a.convList.Selected()
	if !ok {
		return
	}
	a.enterThread(views.DisplayName(c))
	go func() {
		_ = a.vm.Select(a.ctx, c)
		a.app.QueueUpdateDraw(a.render)
	}()
}

func (a *App) openUser(text string) {
	peer, err := ParseUserID(text)
	if err != nil {
		a.vm.Flash.Err(err)
		a.render()
		return
	}
	a.enterThread(fmt.Sprintf("user %d", peer))
	go func() {
		if err := a.vm.Open(a.ctx, peer); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.switchTo(pageList)
				a.render()
			})
			return
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

func (a *App) enterThread(name string) {
	a.thread.SetPeerName(name)
	a.thread.Update(nil)
	a.switchTo(pageThread)
}

func (a *App) refresh() {
	go func() {
		if err := a.vm.Refresh(a.ctx); err == nil {
			a.vm.Flash.Info("Conversations refreshed")
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

func (a *App) logout() {
	a.vm.Logout()
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "new", "open":
		a.openUser(cmd.Args)
	case "refresh":
		a.refresh()
	case "logout":
		a.logout()
	case "help", "h":
		a.showHelp()
	case "quit", "q":
		a.Stop()
	default:
		a.vm.Flash.Warn(fmt.Sprintf("unknown command %q", cmd.Name))
		a.render()
	}
}

// render copies the view model into every widget. Must run on the UI goroutine.
func (a *App) render() {
	a.convList.Update(a.vm.Conversations())
	if sel, ok := a.vm.Selected(); ok {
		a.thread.SetPeerName(views.DisplayName(sel))
		a.thread.Update(a.vm.Messages())
	}
	a.statusBar.SetChannel(transport.ChannelChat, a.vm.Channel(transport.ChannelChat))
	a.statusBar.SetChannel(transport.ChannelNotify, a.vm.Channel(transport.ChannelNotify))
	a.statusBar.SetNotifications(a.vm.Notifications())
	a.statusBar.SetFlash(a.vm.Flash.Current())
	page, _ := a.pages.GetFrontPage()
	a.menu.Update(a.registry.Hints(page))
}

// Run starts the TUI application. It blocks until Stop.
func (a *App) Run() error {
	go a.vm.Watch(a.ctx)
	a.startRefreshLoop()
	a.menu.Update(a.registry.Hints(pageList))
	return a.app.Run()
}

// startRefreshLoop redraws on view model changes, and periodically so
// flash messages expire and dropped bus events are caught up.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-a.vm.RefreshCh():
			case <-ticker.C:
				if n++; n%5 == 0 {
					a.vm.Reload()
				}
			case <-a.ctx.Done():
				return
			}
			a.app.QueueUpdateDraw(a.render)
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
