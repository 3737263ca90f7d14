package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name, settings, err := session.Load(*profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		st     *store.Store
		engine *intsync.Engine
		sender *outbox.Sender
		b      *bus.Bus
	)
	core := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{
			Profile:  name,
			Settings: settings,
			Owner:    "chatsync",
		}),
		fx.Populate(&st, &engine, &sender, &b),
	)
	if err := core.Err(); err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "profile %q is in use: %v\n", name, held)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), core.StartTimeout())
	defer cancel()
	if err := core.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}

	vm := model.NewViewModel(st, engine, sender, b, store.UserID(settings.UserID))
	app := tui.NewApp(vm, name)

	// Logout shuts the core down; take the screen down with it.
	go func() {
		<-core.Wait()
		app.Stop()
	}()

	runErr := app.Run()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), core.StopTimeout())
	defer cancelStop()
	if err := core.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "stop: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
