package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const cancelTimeout = 5 * time.Second

// ChatCmd creates the interactive chat command
func ChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session against the ragchat API.

Type a question and press enter. Ctrl-C while an answer is pending cancels
the turn; /history prints the conversation and /exit (or Ctrl-D) ends the
session.`,
		RunE: runChat,
	}

	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	client, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	loop := &chatLoop{
		client: client,
		in:     cmd.InOrStdin(),
		out:    cmd.OutOrStdout(),
		turnContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
	return loop.Run(cmd.Context())
}

// chatLoop reads questions line by line and submits them one at a time. The
// next prompt is shown only once the previous turn is rendered.
type chatLoop struct {
	client *APIClient
	in     io.Reader
	out    io.Writer
	// turnContext derives the context of one turn; it is cancelled when the
	// user interrupts the turn.
	turnContext func(ctx context.Context) (context.Context, context.CancelFunc)
}

func (l *chatLoop) Run(ctx context.Context) error {
	session, err := l.client.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer func() {
		delCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		_ = l.client.DeleteSession(delCtx, session.ID)
	}()

	fmt.Fprintf(l.out, "Session %s. Ask a question, /history or /exit.\n", session.ID)

	scanner := bufio.NewScanner(l.in)
	for {
		fmt.Fprint(l.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(l.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/history":
			s, err := l.client.GetSession(ctx, session.ID)
			if err != nil {
				return err
			}
			renderHistory(l.out, s.Turns)
			continue
		}

		if err := l.turn(ctx, session.ID, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// turn submits one question and renders the outcome. Only failures that end
// the session are returned.
func (l *chatLoop) turn(ctx context.Context, sessionID, query string) error {
	turnCtx, stop := l.turnContext(ctx)
	defer stop()

	t, err := l.client.SubmitTurn(turnCtx, sessionID, query)
	switch {
	case err == nil:
		renderTurn(l.out, t)
		return nil
	case turnCtx.Err() != nil && ctx.Err() == nil:
		l.cancelTurn(sessionID)
		fmt.Fprintln(l.out, "(cancelled)")
		return nil
	case HasCode(err, "CANCELLED"):
		fmt.Fprintln(l.out, "(cancelled)")
		return nil
	case HasCode(err, "SESSION_BUSY"):
		fmt.Fprintln(l.out, "! a turn is still in progress, wait for it to finish")
		return nil
	case HasCode(err, "VALIDATION_ERROR"):
		var apiErr *APIError
		errors.As(err, &apiErr)
		fmt.Fprintf(l.out, "! %s\n", apiErr.Message)
		return nil
	}
	return err
}

func (l *chatLoop) cancelTurn(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	_, _ = l.client.CancelTurn(ctx, sessionID)
}
