// Package stream implements the submit-turn operation: it records the user's
// turn, relays the model's reply chunk by chunk to the client, and stores the
// finished reply.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/internal/service/ai"
	chatservice "github.com/zhouzirui/tavern-chat/internal/service/chat"
)

var (
	// ErrEmptyQuery is returned for queries that are blank after trimming.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrStreamAborted marks a reply that did not complete. Nothing of the
	// partial reply was stored.
	ErrStreamAborted = errors.New("stream aborted")
)

// Sink receives reply chunks in production order. A write error means the
// client is gone and ends the operation.
type Sink interface {
	WriteChunk(text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string) error

// WriteChunk implements Sink.
func (f SinkFunc) WriteChunk(text string) error { return f(text) }

// Result describes one submit-turn operation.
type Result struct {
	// Reply is the stored model turn; zero when nothing was stored.
	Reply chat.Turn
	// Chunks counts chunks handed to the sink, including on failure.
	Chunks int
}

// Bridge coordinates the session store, the language model and the client.
type Bridge struct {
	store     chatservice.Store
	locks     *chatservice.Locker
	generator ai.Generator
}

// New creates a Bridge. Submit calls for the same session id are serialized.
func New(store chatservice.Store, generator ai.Generator) *Bridge {
	return &Bridge{
		store:     store,
		locks:     chatservice.NewLocker(),
		generator: generator,
	}
}

// Submit appends the user's query to the session, streams the model reply to
// sink and, once the reply completes, appends it as a model turn.
//
// When the model stream fails, the sink fails, or ctx is cancelled, the
// upstream stream is closed and the returned error wraps ErrStreamAborted;
// the user turn stays in the transcript without a model reply.
func (b *Bridge) Submit(ctx context.Context, sessionID, query string, sink Sink) (Result, error) {
	var res Result
	if strings.TrimSpace(query) == "" {
		return res, ErrEmptyQuery
	}

	unlock, err := b.locks.Lock(ctx, sessionID)
	if err != nil {
		return res, fmt.Errorf("%w: waiting for session: %w", ErrStreamAborted, err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.With().Str("component", "stream").Str("session", sessionID).Logger()
	started := time.Now()

	prior := b.store.Get(ctx, sessionID)
	if err := b.store.Append(ctx, sessionID, chat.NewTextTurn(chat.RoleUser, query)); err != nil {
		if errors.Is(err, chatservice.ErrSessionRevoked) {
			return res, err
		}
		logger.Warn().Err(err).Msg("failed to save user turn, continuing")
	}

	reader, err := b.generator.Stream(ctx, prior, query)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}
	defer reader.Close()

	var reply strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Int("chunks", res.Chunks).Msg("model stream failed")
			return res, fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		if chunk == "" {
			continue
		}
		if err := sink.WriteChunk(chunk); err != nil {
			logger.Info().Err(err).Int("chunks", res.Chunks).Msg("client went away")
			return res, fmt.Errorf("%w: write chunk: %w", ErrStreamAborted, err)
		}
		res.Chunks++
		reply.WriteString(chunk)
	}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}

	if reply.Len() == 0 {
		logger.Warn().Msg("model returned an empty reply, nothing stored")
		return res, nil
	}

	turn := chat.NewTextTurn(chat.RoleModel, reply.String())
	if err := b.store.Append(ctx, sessionID, turn); err != nil {
		logger.Warn().Err(err).Msg("failed to save model turn")
		return res, nil
	}
	res.Reply = turn

	logger.Info().
		Int("chunks", res.Chunks).
		Int("length", reply.Len()).
		Dur("elapsed", time.Since(started)).
		Msg("completed response")
	return res, nil
}
