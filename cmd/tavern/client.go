package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tavern-chat/internal/client"
	"github.com/zhouzirui/tavern-chat/internal/render"
)

const terminalWidth = 100

type clientOptions struct {
	url         string
	sessionFile string
}

func addClientFlags(cmd *cobra.Command, opts *clientOptions) {
	cmd.Flags().StringVar(&opts.url, "url", envOr("TAVERN_URL", "http://localhost:3000"), "server base URL")
	cmd.Flags().StringVar(&opts.sessionFile, "session-file", defaultSessionFile(), "file keeping the session cookie between runs (empty to disable)")
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tavern", "session")
}

// open creates a client that resumes the saved session, if any.
func (o *clientOptions) open() (*client.Client, error) {
	c, err := client.New(o.url)
	if err != nil {
		return nil, err
	}
	if o.sessionFile == "" {
		return c, nil
	}
	data, err := os.ReadFile(o.sessionFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	c.SetSessionCookie(strings.TrimSpace(string(data)))
	return c, nil
}

// save remembers the session the server issued last.
func (o *clientOptions) save(c *client.Client) error {
	value := c.SessionCookie()
	if o.sessionFile == "" || value == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(o.sessionFile), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	return os.WriteFile(o.sessionFile, []byte(value+"\n"), 0o600)
}

// withClient runs fn and saves the session even when fn fails part way.
func (o *clientOptions) withClient(fn func(c *client.Client) error) error {
	c, err := o.open()
	if err != nil {
		return err
	}
	runErr := fn(c)
	if err := o.save(c); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func newChatCmd() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the server from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(c *client.Client) error {
				return chatLoop(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout(), terminalRender)
			})
		},
	}
	addClientFlags(cmd, opts)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the transcript of the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(c *client.Client) error {
				transcript, err := c.History(cmd.Context())
				if err != nil {
					return err
				}
				client.WriteTranscript(cmd.OutOrStdout(), transcript, terminalRender)
				return nil
			})
		},
	}
	addClientFlags(cmd, opts)
	return cmd
}

func newClearCmd() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard the saved session's transcript and start a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(c *client.Client) error {
				return c.Clear(cmd.Context())
			})
		},
	}
	addClientFlags(cmd, opts)
	return cmd
}

func terminalRender(text string) string {
	return render.Terminal(text, terminalWidth)
}

// chatLoop reads one query per line. "/clear" starts a new session and
// "/quit" or EOF ends the loop. Replies are shown through renderer.
func chatLoop(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, renderer client.RenderFunc) error {
	transcript, err := c.History(ctx)
	if err != nil {
		return err
	}
	client.WriteTranscript(out, transcript, renderer)

	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd())
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		switch query {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			if err := c.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "started a new conversation")
			continue
		}

		view := client.NewLiveView(out, renderer, interactive)
		reply, err := c.Send(ctx, query, view.Update)
		switch {
		case err == nil:
			view.Finish(reply, false)
		case errors.Is(err, client.ErrIncomplete):
			view.Finish(reply, true)
		default:
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
