// Package cloudchat provides a high-level façade over the conversation
// orchestrator for building streaming AWS assistant chats. Most applications
// interact with this package by:
//  1. Creating a Chat via New() with a model and tool dispatcher (optionally
//     overriding the default in-memory history store)
//  2. Sending prompts asynchronously (Prompt) or synchronously (PromptSync)
//  3. Listing, replaying and deleting conversations
//
// The façade delegates orchestration to orchestrator.Orchestrator while
// keeping setup ergonomics concise. Defaults are safe for local development;
// production deployments typically supply the SQLite history store and a
// structured logger.
package cloudchat

import (
	"context"

	"github.com/cloudchat/cloudchat/core"
	"github.com/cloudchat/cloudchat/logging"
	"github.com/cloudchat/cloudchat/model"
	"github.com/cloudchat/cloudchat/orchestrator"
	"github.com/cloudchat/cloudchat/strategy"
	"github.com/cloudchat/cloudchat/tool"
)

// Options configures the Chat instance.
type Options struct {
	// Store persists conversation history. Defaults to an in-memory store.
	Store core.MemoryStore

	// Strategies render tool invocations as wire events.
	Strategies *strategy.Set

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// HistoryWindow is the number of stored entries replayed per prompt.
	HistoryWindow int

	// EventBufferSize sets the channel buffer size for event delivery.
	// Larger buffers reduce blocking but increase memory usage.
	EventBufferSize int

	// MaxModelCalls bounds model invocations per prompt.
	MaxModelCalls int

	// TitleModel generates conversation titles. Defaults to the chat model.
	TitleModel model.Model
}

// PromptInput carries one user prompt. See orchestrator.PromptInput.
type PromptInput = orchestrator.PromptInput

// Chat is the high-level façade aggregating the orchestrator and its services.
type Chat struct {
	orch *orchestrator.Orchestrator
}

// New creates a Chat over the given model and tool dispatcher with optional
// overrides. Any unset service is initialized with an in-memory
// implementation.
func New(mdl model.Model, dispatcher *tool.Dispatcher, optFns ...func(o *Options)) *Chat {
	opts := Options{
		Strategies: strategy.Default(),
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	orch := orchestrator.New(mdl, dispatcher, func(o *orchestrator.Options) {
		o.Store = opts.Store
		o.Strategies = opts.Strategies
		o.Logger = opts.Logger
		o.HistoryWindow = opts.HistoryWindow
		o.EventBufferSize = opts.EventBufferSize
		o.MaxModelCalls = opts.MaxModelCalls
		o.TitleModel = opts.TitleModel
	})

	return &Chat{orch: orch}
}

// Prompt starts an asynchronous exchange returning the event channel. The
// first event is always the conversation detail metadata; the channel closes
// when the exchange settles or fails.
func (c *Chat) Prompt(ctx context.Context, input PromptInput) (<-chan core.Event, error) {
	return c.orch.HandlePrompt(ctx, input)
}

// PromptSync is a synchronous helper that drains the event channel and
// returns the collected events. On a terminal error event the events
// collected so far are returned alongside the error message.
func (c *Chat) PromptSync(ctx context.Context, input PromptInput) ([]core.Event, error) {
	ch, err := c.orch.HandlePrompt(ctx, input)
	if err != nil {
		return nil, err
	}

	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			// Context cancelled - return events collected so far
			return events, ctx.Err()

		case ev, ok := <-ch:
			if !ok {
				return events, nil
			}
			events = append(events, ev)
		}
	}
}

// ListConversations returns a page of the user's conversations, most recent
// first.
func (c *Chat) ListConversations(ctx context.Context, username string, offset, limit int) ([]core.Conversation, error) {
	return c.orch.ListConversations(ctx, username, offset, limit)
}

// ListMessages returns a page of the conversation's entries in chronological
// order.
func (c *Chat) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]core.Entry, error) {
	return c.orch.ListMessages(ctx, conversationID, offset, limit)
}

// DeleteConversation removes the conversation and all its entries.
func (c *Chat) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.orch.DeleteConversation(ctx, conversationID)
}
