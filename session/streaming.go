// Package session drives one streaming prompt exchange: it calls the model,
// persists assistant output incrementally, executes requested tools, and
// feeds tool results back to the model until the turn settles on text.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudchat/cloudchat/core"
	"github.com/cloudchat/cloudchat/logging"
	"github.com/cloudchat/cloudchat/model"
	"github.com/cloudchat/cloudchat/strategy"
	"github.com/cloudchat/cloudchat/tool"
)

// State labels the lifecycle phase of a streaming session.
type State string

const (
	// StateStreaming is active model output delivery.
	StateStreaming State = "streaming"
	// StateToolPending is tool execution between model calls.
	StateToolPending State = "tool_pending"
	// StateCompleted is a settled session, all events delivered.
	StateCompleted State = "completed"
	// StateFailed is a terminally failed session.
	StateFailed State = "failed"
)

// DefaultMaxModelCalls bounds the tool loop when the caller sets no limit.
const DefaultMaxModelCalls = 10

// Options configure a StreamingSession.
type Options struct {
	// Strategies render tool invocations as wire events. Defaults to the
	// registered AWS strategies.
	Strategies *strategy.Set

	// Logger receives session lifecycle logs. Defaults to NoOpLogger.
	Logger logging.Logger

	// MaxModelCalls bounds model invocations per Run. Zero selects
	// DefaultMaxModelCalls.
	MaxModelCalls int
}

// StreamingSession executes one prompt exchange. It is single-use: construct,
// Run once, discard.
type StreamingSession struct {
	mdl        model.Model
	dispatcher *tool.Dispatcher
	store      core.MemoryStore
	emit       chan<- core.Event
	strategies *strategy.Set
	logger     logging.Logger
	budget     *core.CallBudget
	state      State
}

// New constructs a StreamingSession writing events to emit. The caller owns
// the channel and closes it after Run returns.
func New(mdl model.Model, dispatcher *tool.Dispatcher, store core.MemoryStore, emit chan<- core.Event, optFns ...func(o *Options)) *StreamingSession {
	opts := Options{
		Strategies:    strategy.Default(),
		Logger:        logging.NoOpLogger{},
		MaxModelCalls: DefaultMaxModelCalls,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxModelCalls <= 0 {
		opts.MaxModelCalls = DefaultMaxModelCalls
	}
	return &StreamingSession{
		mdl:        mdl,
		dispatcher: dispatcher,
		store:      store,
		emit:       emit,
		strategies: opts.Strategies,
		logger:     opts.Logger,
		budget:     core.NewCallBudget(opts.MaxModelCalls),
		state:      StateStreaming,
	}
}

// State returns the session's current lifecycle phase.
func (s *StreamingSession) State() State { return s.state }

// Run drives the model/tool loop over the assembled history until the model
// settles on a text-only turn. History must already contain the system prompt
// and the just-persisted user message. On unrecoverable failure Run emits a
// terminal error event and returns the error.
func (s *StreamingSession) Run(ctx context.Context, conversationID, username string, history []core.Content) error {
	for {
		if err := s.budget.Increment(); err != nil {
			return s.fail(ctx, err)
		}

		turnID := core.NewID()
		final, err := s.streamTurn(ctx, conversationID, username, turnID, history)
		if err != nil {
			return s.fail(ctx, err)
		}

		calls := final.Content.FunctionCalls()
		if len(calls) == 0 {
			s.state = StateCompleted
			s.logger.Info("session.completed",
				"conversation_id", conversationID, "model_calls", s.budget.Count())
			return nil
		}

		s.state = StateToolPending
		history = append(history, final.Content)
		for _, call := range calls {
			responsePart, err := s.executeTool(ctx, conversationID, username, call)
			if err != nil {
				return s.fail(ctx, err)
			}
			history = append(history, core.Content{Role: string(core.RoleTool), Parts: []core.Part{responsePart}})
		}
		s.state = StateStreaming
	}
}

// streamTurn runs one model call, persisting text fragments under turnID as
// they arrive and emitting the matching wire events. It returns the final
// chunk of the turn.
func (s *StreamingSession) streamTurn(ctx context.Context, conversationID, username, turnID string, history []core.Content) (model.Response, error) {
	req := model.Request{
		Contents: history,
		Tools:    s.dispatcher.Definitions(),
		Stream:   true,
	}
	respCh, errCh := s.mdl.Generate(ctx, req)

	var final model.Response
	var sawFinal bool
	var streamed bool

	for {
		select {
		case <-ctx.Done():
			return model.Response{}, ctx.Err()

		case err, ok := <-errCh:
			if ok && err != nil {
				return model.Response{}, err
			}
			errCh = nil

		case resp, ok := <-respCh:
			if !ok {
				// The select may observe the closed response channel before a
				// buffered error; drain the error channel once before settling.
				if errCh != nil {
					if err, open := <-errCh; open && err != nil {
						return model.Response{}, err
					}
				}
				if !sawFinal {
					return model.Response{}, fmt.Errorf("model stream closed without a final chunk")
				}
				return s.settleTurn(ctx, conversationID, username, turnID, final, streamed)
			}
			if resp.Partial {
				didStream, err := s.handlePartial(ctx, conversationID, username, turnID, resp)
				if err != nil {
					return model.Response{}, err
				}
				streamed = streamed || didStream
				continue
			}
			final = resp
			sawFinal = true
		}
	}
}

// handlePartial persists and emits one partial chunk. It reports whether the
// chunk carried text, so settleTurn knows not to double-write the full text.
func (s *StreamingSession) handlePartial(ctx context.Context, conversationID, username, turnID string, resp model.Response) (bool, error) {
	if text := resp.Content.Text(); text != "" {
		entry := core.Entry{
			ConversationID: conversationID,
			Username:       username,
			Role:           core.RoleAssistant,
			Text:           text,
			TurnID:         turnID,
		}
		if err := s.store.AppendOrUpdate(ctx, entry); err != nil {
			return false, fmt.Errorf("persist fragment: %w", err)
		}
		if err := s.emitEvent(ctx, core.NewMessageEvent(text)); err != nil {
			return false, err
		}
		return true, nil
	}

	// Advisory snapshots of assembling tool calls. Arguments may be
	// incomplete JSON at this point.
	for _, call := range resp.Content.FunctionCalls() {
		inv := invocationFor(call)
		if ev, ok := s.strategies.Format(inv, false); ok {
			if err := s.emitEvent(ctx, ev); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// settleTurn persists the final chunk's metadata. Text already streamed
// incrementally is not rewritten; a turn that produced no partials stores its
// full text here so non-streaming models remain durable.
func (s *StreamingSession) settleTurn(ctx context.Context, conversationID, username, turnID string, final model.Response, streamed bool) (model.Response, error) {
	entry := core.Entry{
		ConversationID: conversationID,
		Username:       username,
		Role:           core.RoleAssistant,
		TurnID:         turnID,
	}
	if !streamed {
		entry.Text = final.Content.Text()
	}
	if calls := final.Content.FunctionCalls(); len(calls) > 0 {
		payload, err := json.Marshal(calls)
		if err != nil {
			return model.Response{}, fmt.Errorf("serialize tool requests: %w", err)
		}
		entry.ToolRequests = string(payload)
	}
	if entry.Text == "" && entry.ToolRequests == "" {
		exists, err := s.store.ExistsForTurn(ctx, turnID)
		if err != nil {
			return model.Response{}, fmt.Errorf("check turn: %w", err)
		}
		if exists {
			return final, nil
		}
	}
	if err := s.store.AppendOrUpdate(ctx, entry); err != nil {
		return model.Response{}, fmt.Errorf("persist turn: %w", err)
	}
	return final, nil
}

// executeTool dispatches one requested call, persists the result as a tool
// entry, and emits the completed event.
func (s *StreamingSession) executeTool(ctx context.Context, conversationID, username string, call core.FunctionCall) (core.Part, error) {
	inv := invocationFor(call)
	s.logger.Info("session.tool_call", "tool", inv.ToolName, "conversation_id", conversationID)

	inv.Response = s.dispatcher.Dispatch(ctx, inv.ToolName, inv.Arguments)

	entry := core.Entry{
		ConversationID: conversationID,
		Username:       username,
		Role:           core.RoleTool,
		ToolID:         inv.ToolID,
		ToolName:       inv.ToolName,
		ToolArguments:  inv.Arguments,
		ToolResponse:   inv.Response,
		TurnID:         core.NewID(),
	}
	if err := s.store.AppendOrUpdate(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist tool result: %w", err)
	}

	if ev, ok := s.strategies.Format(inv, true); ok {
		if err := s.emitEvent(ctx, ev); err != nil {
			return nil, err
		}
	}

	return core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
		ID:       inv.ToolID,
		Name:     inv.ToolName,
		Response: inv.Response,
	}}, nil
}

// emitEvent delivers the event, first without blocking, then blocking until
// the consumer drains or the context ends.
func (s *StreamingSession) emitEvent(ctx context.Context, ev core.Event) error {
	select {
	case s.emit <- ev:
		return nil
	default:
	}
	select {
	case s.emit <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail marks the session failed and emits the terminal error event. The
// original error is returned for the caller's log.
func (s *StreamingSession) fail(ctx context.Context, err error) error {
	s.state = StateFailed
	s.logger.Error("session.failed", "error", err)
	// Best effort: the consumer may already be gone.
	_ = s.emitEvent(ctx, core.NewErrorEvent(err.Error()))
	return err
}

// invocationFor normalizes a model function call. Providers that omit call
// ids fall back to the tool name so event rendering still routes by family.
func invocationFor(call core.FunctionCall) core.ToolInvocation {
	id := call.ID
	if id == "" {
		id = call.Name
	}
	return core.ToolInvocation{ToolID: id, ToolName: call.Name, Arguments: call.Arguments}
}
