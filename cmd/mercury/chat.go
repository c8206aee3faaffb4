package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/martinemde/mercury/agentloop"
)

func chatCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session with the agent",
		Long: `Start an interactive session. Type a message and press enter.

Commands:
  /clear   start a new conversation
  /exit    quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, func(ctx context.Context, a *app) error {
				return chatLoop(ctx, a, os.Stdin, cmd.OutOrStdout())
			})
		},
	}
}

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <prompt>",
		Short: "Send one message and print the transcript",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return withApp(g, func(ctx context.Context, a *app) error {
				return runOnce(ctx, a.session, prompt, cmd.OutOrStdout())
			})
		},
	}
}

// withApp loads config, wires an app and runs fn under an interrupt-aware
// context.
func withApp(g *globalFlags, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, cancel := interruptContext()
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Debug("shutdown", "error", err)
		}
	}()
	a.watch(ctx)
	return fn(ctx, a)
}

// printTimeline renders timeline changes to w until the returned stop
// function is called. stop waits for pending output.
func printTimeline(s *agentloop.Session, w io.Writer) (stop func()) {
	changes, cancel := s.Subscribe(256)
	r := newRenderer(w)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := range changes {
			r.handle(c)
		}
		r.endLine()
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func runOnce(ctx context.Context, s *agentloop.Session, prompt string, w io.Writer) error {
	stop := printTimeline(s, w)
	err := s.SendMessage(ctx, prompt)
	stop()
	return err
}

func chatLoop(ctx context.Context, a *app, in io.Reader, w io.Writer) error {
	stop := printTimeline(a.session, w)
	defer stop()

	fmt.Fprintf(w, "MERCURY // %s %s // tools %s\n", a.cfg.Provider, a.cfg.Model, a.tools.Dispatcher.Mode())
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit", "/quit", "exit", "quit":
			return nil
		case "/clear":
			a.session.ClearConversation()
			continue
		}
		if err := a.session.SendMessage(ctx, input); err != nil {
			if errors.Is(err, agentloop.ErrBusy) {
				fmt.Fprintln(w, "busy: wait for the current reply")
				continue
			}
			return err
		}
	}
}
