// Package orchestrator is the conversation entry point. It resolves the
// conversation id and title, persists the user message, assembles the model
// history window, and runs a streaming session whose events it hands back to
// the caller as a channel.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudchat/cloudchat/core"
	"github.com/cloudchat/cloudchat/logging"
	"github.com/cloudchat/cloudchat/memory"
	"github.com/cloudchat/cloudchat/model"
	"github.com/cloudchat/cloudchat/session"
	"github.com/cloudchat/cloudchat/strategy"
	"github.com/cloudchat/cloudchat/tool"
)

// systemPrompt steers the model toward the provisioned AWS capabilities.
const systemPrompt = `You are a cloud infrastructure assistant. You help users manage their AWS resources: S3 buckets and EC2 instances. Use the provided tools to inspect and change resources when the user asks for it, and report what you did. Ask for confirmation before terminating instances or deleting buckets. Answer concisely.`

// defaultHistoryWindow is the number of stored entries replayed into the
// model on a continuing conversation.
const defaultHistoryWindow = 8

// defaultEventBufferSize is the capacity of the event channel returned by
// HandlePrompt.
const defaultEventBufferSize = 100

// titleMaxLen bounds generated conversation titles, in runes.
const titleMaxLen = 28

// fallbackTitle is used when title generation fails.
const fallbackTitle = "New Conversation"

// Options configure an Orchestrator.
type Options struct {
	// Store persists conversation history. Defaults to an in-memory store.
	Store core.MemoryStore

	// Strategies render tool invocations as wire events.
	Strategies *strategy.Set

	// Logger receives orchestration logs. Defaults to NoOpLogger.
	Logger logging.Logger

	// HistoryWindow is the number of stored entries replayed per prompt.
	HistoryWindow int

	// EventBufferSize is the capacity of returned event channels.
	EventBufferSize int

	// MaxModelCalls bounds model invocations per prompt.
	MaxModelCalls int

	// TitleModel generates conversation titles. Defaults to the main model.
	TitleModel model.Model
}

// PromptInput carries one user prompt. An empty ConversationID starts a new
// conversation; Title is optional and only honored on the first turn.
type PromptInput struct {
	ConversationID string
	Message        string
	Title          string
	Username       string
}

// Orchestrator coordinates prompt handling over a model, a tool dispatcher
// and a memory store. Safe for concurrent use.
type Orchestrator struct {
	mdl        model.Model
	titleModel model.Model
	dispatcher *tool.Dispatcher
	store      core.MemoryStore
	strategies *strategy.Set
	logger     logging.Logger

	historyWindow   int
	eventBufferSize int
	maxModelCalls   int
}

// New constructs an Orchestrator for the given model and dispatcher.
func New(mdl model.Model, dispatcher *tool.Dispatcher, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Strategies:      strategy.Default(),
		Logger:          logging.NoOpLogger{},
		HistoryWindow:   defaultHistoryWindow,
		EventBufferSize: defaultEventBufferSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = memory.NewInMemoryStore()
	}
	if opts.TitleModel == nil {
		opts.TitleModel = mdl
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = defaultEventBufferSize
	}
	return &Orchestrator{
		mdl:             mdl,
		titleModel:      opts.TitleModel,
		dispatcher:      dispatcher,
		store:           opts.Store,
		strategies:      opts.Strategies,
		logger:          opts.Logger,
		historyWindow:   opts.HistoryWindow,
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
	}
}

// HandlePrompt processes one user prompt. It returns a channel of wire
// events; the first is always the conversation detail metadata, and the
// channel closes when the exchange settles or fails. Persistence of the user
// message happens before the model is invoked, so a crash mid-stream never
// loses the prompt.
func (o *Orchestrator) HandlePrompt(ctx context.Context, input PromptInput) (<-chan core.Event, error) {
	if strings.TrimSpace(input.Message) == "" {
		return nil, fmt.Errorf("orchestrator: empty message")
	}

	conversationID := input.ConversationID
	continuing := conversationID != ""
	if !continuing {
		conversationID = core.NewID()
	}

	// Fetch history before persisting the new user entry so the window never
	// contains the message twice.
	var recent []core.Entry
	if continuing {
		newest, err := o.store.EntriesForConversation(ctx, conversationID, 0, o.historyWindow, false)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load history: %w", err)
		}
		recent = reverseEntries(newest)
	}

	title := o.resolveTitle(ctx, input, recent)

	userEntry := core.Entry{
		ConversationID: conversationID,
		Username:       input.Username,
		Title:          title,
		Role:           core.RoleUser,
		Text:           input.Message,
		TurnID:         core.NewID(),
	}
	if err := o.store.AppendOrUpdate(ctx, userEntry); err != nil {
		return nil, fmt.Errorf("orchestrator: persist prompt: %w", err)
	}

	history := make([]core.Content, 0, len(recent)+2)
	history = append(history, core.NewTextContent(string(core.RoleSystem), systemPrompt))
	history = append(history, entriesToContents(recent)...)
	history = append(history, core.NewTextContent(string(core.RoleUser), input.Message))

	events := make(chan core.Event, o.eventBufferSize)
	events <- core.NewConversationDetailEvent(conversationID, title)

	s := session.New(o.mdl, o.dispatcher, o.store, events, func(so *session.Options) {
		so.Strategies = o.strategies
		so.Logger = o.logger
		so.MaxModelCalls = o.maxModelCalls
	})

	go func() {
		defer close(events)
		if err := s.Run(ctx, conversationID, input.Username, history); err != nil {
			o.logger.Error("orchestrator.session_failed",
				"conversation_id", conversationID, "error", err)
		}
	}()

	return events, nil
}

// ListConversations returns a page of the user's conversations, most recent
// first.
func (o *Orchestrator) ListConversations(ctx context.Context, username string, offset, limit int) ([]core.Conversation, error) {
	return o.store.ConversationsForUser(ctx, username, offset, limit)
}

// ListMessages returns a page of the conversation's entries in chronological
// order.
func (o *Orchestrator) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]core.Entry, error) {
	return o.store.EntriesForConversation(ctx, conversationID, offset, limit, true)
}

// DeleteConversation removes the conversation and all its entries.
func (o *Orchestrator) DeleteConversation(ctx context.Context, conversationID string) error {
	return o.store.DeleteConversation(ctx, conversationID)
}

// resolveTitle picks the conversation title: an explicit input title wins,
// then a previously stored title, then a generated one. Generation failures
// degrade to a fixed placeholder rather than failing the prompt.
func (o *Orchestrator) resolveTitle(ctx context.Context, input PromptInput, recent []core.Entry) string {
	if t := strings.TrimSpace(input.Title); t != "" {
		return truncateTitle(t)
	}
	for _, e := range recent {
		if e.Title != "" {
			return e.Title
		}
	}
	title, err := o.generateTitle(ctx, input.Message)
	if err != nil {
		o.logger.Warn("orchestrator.title_generation_failed", "error", err)
		return fallbackTitle
	}
	return title
}

// generateTitle asks the title model for a short conversation label using a
// single non-streaming call.
func (o *Orchestrator) generateTitle(ctx context.Context, message string) (string, error) {
	instruction := fmt.Sprintf(
		"Summarize the following message as a conversation title of at most %d characters. Reply with the title only, no quotes.\n\n%s",
		titleMaxLen, message,
	)
	respCh, errCh := o.titleModel.Generate(ctx, model.Request{
		Contents: []core.Content{core.NewTextContent(string(core.RoleUser), instruction)},
	})

	var title string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return "", err
			}
			errCh = nil
		case resp, ok := <-respCh:
			if !ok {
				title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
				if title == "" {
					return "", fmt.Errorf("empty title")
				}
				return truncateTitle(title), nil
			}
			if !resp.Partial {
				title = resp.Content.Text()
			}
		}
	}
}

func truncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= titleMaxLen {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleMaxLen])
}

// entriesToContents replays stored history as model contents. Assistant
// entries carrying tool requests are rebuilt with their function call parts
// so the model sees its own earlier calls; tool entries become function
// responses.
func entriesToContents(entries []core.Entry) []core.Content {
	contents := make([]core.Content, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case core.RoleUser:
			contents = append(contents, core.NewTextContent(string(core.RoleUser), e.Text))

		case core.RoleAssistant:
			var parts []core.Part
			if e.Text != "" {
				parts = append(parts, core.TextPart{Text: e.Text})
			}
			if e.ToolRequests != "" {
				var calls []core.FunctionCall
				if err := json.Unmarshal([]byte(e.ToolRequests), &calls); err == nil {
					for _, c := range calls {
						parts = append(parts, core.FunctionCallPart{FunctionCall: c})
					}
				}
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, core.Content{Role: string(core.RoleAssistant), Parts: parts})

		case core.RoleTool:
			contents = append(contents, core.Content{
				Role: string(core.RoleTool),
				Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
					ID:       e.ToolID,
					Name:     e.ToolName,
					Response: e.ToolResponse,
				}}},
			})
		}
	}
	return contents
}

func reverseEntries(entries []core.Entry) []core.Entry {
	out := make([]core.Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
