package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-chat/internal/client"
	"github.com/zhouzirui/tavern-chat/internal/handler"
	"github.com/zhouzirui/tavern-chat/internal/middleware"
	"github.com/zhouzirui/tavern-chat/internal/model/chat"
	chatservice "github.com/zhouzirui/tavern-chat/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/internal/service/stream"
)

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "version flag", args: []string{"--version"}},
		{name: "help flag", args: []string{"--help"}},
		{name: "unknown command", args: []string{"bogus"}, wantErr: true},
		{name: "serve takes no args", args: []string{"serve", "extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			var stdout, stderr bytes.Buffer
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWriteSecretKeepsOtherVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=8080\nSESSION_SECRET=old\n"), 0o600))

	require.NoError(t, writeSecret(path))
	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "8080", env["PORT"])
	assert.Len(t, env["SESSION_SECRET"], 64)
	assert.NotEqual(t, "old", env["SESSION_SECRET"])
	first := env["SESSION_SECRET"]

	require.NoError(t, writeSecret(path))
	env, err = godotenv.Read(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, env["SESSION_SECRET"])
}

func TestWriteSecretCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, writeSecret(path))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Len(t, env["SESSION_SECRET"], 64)
}

type echoGenerator struct{}

func (echoGenerator) Stream(_ context.Context, _ chat.Transcript, query string) (*schema.StreamReader[string], error) {
	return schema.StreamReaderFromArray([]string{"you said ", query}), nil
}

func TestChatLoop(t *testing.T) {
	store := chatservice.NewMemoryStore(time.Hour)
	sessions := middleware.NewSessionManager("test-secret", time.Hour, store)
	srv := httptest.NewServer(handler.NewRouter(store, stream.New(store, echoGenerator{}), sessions, nil))
	defer srv.Close()

	c, err := client.New(srv.URL)
	require.NoError(t, err)

	in := strings.NewReader("hello\n\n/clear\nagain\n/quit\nnever sent\n")
	var out bytes.Buffer
	plain := func(text string) string { return text }
	require.NoError(t, chatLoop(context.Background(), c, in, &out, plain))

	assert.Contains(t, out.String(), "you said hello")
	assert.Contains(t, out.String(), "started a new conversation")
	assert.Contains(t, out.String(), "you said again")
	assert.NotContains(t, out.String(), "never sent")

	history, err := c.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.Transcript{
		chat.NewTextTurn(chat.RoleUser, "again"),
		chat.NewTextTurn(chat.RoleModel, "you said again"),
	}, history)
}

func TestClientOptionsPersistSession(t *testing.T) {
	store := chatservice.NewMemoryStore(time.Hour)
	sessions := middleware.NewSessionManager("test-secret", time.Hour, store)
	srv := httptest.NewServer(handler.NewRouter(store, stream.New(store, echoGenerator{}), sessions, nil))
	defer srv.Close()

	opts := &clientOptions{url: srv.URL, sessionFile: filepath.Join(t.TempDir(), "tavern", "session")}
	ctx := context.Background()

	require.NoError(t, opts.withClient(func(c *client.Client) error {
		_, err := c.Send(ctx, "remember me", nil)
		return err
	}))

	require.NoError(t, opts.withClient(func(c *client.Client) error {
		history, err := c.History(ctx)
		require.NoError(t, err)
		assert.Len(t, history, 2)
		return nil
	}))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n  b", 10))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
}
