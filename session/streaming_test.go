package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchat/cloudchat/core"
	"github.com/cloudchat/cloudchat/memory"
	"github.com/cloudchat/cloudchat/model"
	"github.com/cloudchat/cloudchat/tool"
)

func echoFamily(t *testing.T) *tool.Family {
	t.Helper()
	echo := tool.NewFunctionTool(
		"aws_echo",
		"Echo the given value.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": map[string]any{"type": "string"}},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"ok": true, "value": args["value"]}, nil
		},
	)
	return tool.NewFamily("echo", "aws_echo", echo)
}

func runSession(t *testing.T, mdl model.Model, store core.MemoryStore, families ...*tool.Family) ([]core.Event, error) {
	t.Helper()
	emit := make(chan core.Event, 100)
	s := New(mdl, tool.NewDispatcher(families), store, emit)
	err := s.Run(context.Background(), "c1", "alice", []core.Content{
		core.NewTextContent("system", "You manage cloud resources."),
		core.NewTextContent("user", "hello"),
	})
	close(emit)

	var events []core.Event
	for ev := range emit {
		events = append(events, ev)
	}
	return events, err
}

func TestRunPlainTextTurn(t *testing.T) {
	store := memory.NewInMemoryStore()
	mdl := model.NewScriptedModel(model.ScriptedTurn{Responses: []model.Response{
		model.TextDelta("Hello "),
		model.TextDelta("there"),
		model.FinalResponse("Hello there"),
	}})

	events, err := runSession(t, mdl, store)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, core.EventMessage, events[0].Type)
	assert.Equal(t, "Hello ", events[0].Message)
	assert.Equal(t, "there", events[1].Message)

	entries, storeErr := store.EntriesForConversation(context.Background(), "c1", 0, 0, true)
	require.NoError(t, storeErr)
	require.Len(t, entries, 1)
	assert.Equal(t, core.RoleAssistant, entries[0].Role)
	assert.Equal(t, "Hello there", entries[0].Text)
}

func TestRunToolLoop(t *testing.T) {
	store := memory.NewInMemoryStore()
	mdl := model.NewScriptedModel(
		model.ScriptedTurn{Responses: []model.Response{
			model.ToolCallDelta("call_1", "aws_echo", `{"value":"hi"}`),
			model.FinalResponse("", core.FunctionCall{ID: "call_1", Name: "aws_echo", Arguments: `{"value":"hi"}`}),
		}},
		model.ScriptedTurn{Responses: []model.Response{
			model.TextDelta("The value was hi."),
			model.FinalResponse("The value was hi."),
		}},
	)

	events, err := runSession(t, mdl, store, echoFamily(t))
	require.NoError(t, err)

	// advisory snapshot, completed tool call, then the closing text
	require.Len(t, events, 3)
	assert.Equal(t, core.EventToolCalling, events[0].Type)
	require.NotNil(t, events[0].Completed)
	assert.False(t, *events[0].Completed)

	assert.Equal(t, core.EventToolCalling, events[1].Type)
	require.NotNil(t, events[1].Completed)
	assert.True(t, *events[1].Completed)
	assert.Contains(t, events[1].ToolResponse, `"ok":true`)

	assert.Equal(t, core.EventMessage, events[2].Type)

	entries, storeErr := store.EntriesForConversation(context.Background(), "c1", 0, 0, true)
	require.NoError(t, storeErr)
	// tool-request turn, tool result, closing assistant turn
	require.Len(t, entries, 3)
	assert.Contains(t, entries[0].ToolRequests, "aws_echo")
	assert.Equal(t, core.RoleTool, entries[1].Role)
	assert.Equal(t, "aws_echo", entries[1].ToolName)
	assert.Equal(t, "The value was hi.", entries[2].Text)

	// second model call saw the tool response in history
	reqs := mdl.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Contents, 4)
}

func TestRunUnroutedToolFeedsFailureBack(t *testing.T) {
	store := memory.NewInMemoryStore()
	mdl := model.NewScriptedModel(
		model.ScriptedTurn{Responses: []model.Response{
			model.FinalResponse("", core.FunctionCall{ID: "call_1", Name: "weather_lookup", Arguments: `{}`}),
		}},
		model.ScriptedTurn{Responses: []model.Response{
			model.FinalResponse("I cannot look up weather."),
		}},
	)

	_, err := runSession(t, mdl, store, echoFamily(t))
	require.NoError(t, err)

	entries, storeErr := store.EntriesForConversation(context.Background(), "c1", 0, 0, true)
	require.NoError(t, storeErr)
	require.Len(t, entries, 3)
	assert.Equal(t, core.RoleTool, entries[1].Role)
	assert.Contains(t, entries[1].ToolResponse, `"ok":false`)
	assert.Contains(t, entries[1].ToolResponse, "no capability family")
}

func TestRunModelErrorEmitsTerminalEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	mdl := model.NewScriptedModel(model.ScriptedTurn{Err: errors.New("connection reset")})

	emit := make(chan core.Event, 10)
	s := New(mdl, tool.NewDispatcher(nil), store, emit)
	err := s.Run(context.Background(), "c1", "alice", []core.Content{core.NewTextContent("user", "hi")})
	close(emit)

	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())

	var events []core.Event
	for ev := range emit {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "connection reset")
	assert.True(t, events[0].IsTerminal())
}

// closedStreamErrorModel returns both channels already settled: a buffered
// error alongside a closed response channel, the shape a transport failure
// leaves behind when the producer goroutine has already exited.
type closedStreamErrorModel struct{ err error }

func (m *closedStreamErrorModel) Generate(context.Context, model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	respCh <- model.TextDelta("partial ")
	errCh <- m.err
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (m *closedStreamErrorModel) Info() model.Info {
	return model.Info{Name: "closed-stream-error", Provider: "test"}
}

func TestRunSurfacesErrorBufferedAtStreamClose(t *testing.T) {
	// Both channels are ready at once, so the select order is random; the
	// buffered error must win every run, not just when it is picked first.
	for i := 0; i < 20; i++ {
		store := memory.NewInMemoryStore()
		mdl := &closedStreamErrorModel{err: errors.New("stream reset mid-turn")}

		emit := make(chan core.Event, 10)
		s := New(mdl, tool.NewDispatcher(nil), store, emit)
		err := s.Run(context.Background(), "c1", "alice", []core.Content{core.NewTextContent("user", "hi")})
		close(emit)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "stream reset mid-turn")
		assert.Equal(t, StateFailed, s.State())
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	store := memory.NewInMemoryStore()

	// every turn requests another tool call, never settling
	var turns []model.ScriptedTurn
	for i := 0; i < 5; i++ {
		turns = append(turns, model.ScriptedTurn{Responses: []model.Response{
			model.FinalResponse("", core.FunctionCall{Name: "aws_echo", Arguments: `{"value":"x"}`}),
		}})
	}
	mdl := model.NewScriptedModel(turns...)

	emit := make(chan core.Event, 100)
	s := New(mdl, tool.NewDispatcher([]*tool.Family{echoFamily(t)}), store, emit,
		func(o *Options) { o.MaxModelCalls = 3 })
	err := s.Run(context.Background(), "c1", "alice", []core.Content{core.NewTextContent("user", "hi")})
	close(emit)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max model calls")
	assert.Equal(t, StateFailed, s.State())
	assert.Len(t, mdl.Requests(), 3)
}

func TestToolIDFallsBackToName(t *testing.T) {
	store := memory.NewInMemoryStore()
	mdl := model.NewScriptedModel(
		model.ScriptedTurn{Responses: []model.Response{
			model.FinalResponse("", core.FunctionCall{Name: "aws_echo", Arguments: `{"value":"hi"}`}),
		}},
		model.ScriptedTurn{Responses: []model.Response{
			model.FinalResponse("done"),
		}},
	)

	events, err := runSession(t, mdl, store, echoFamily(t))
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, core.EventToolCalling, events[0].Type)
	assert.Equal(t, "aws_echo", events[0].ToolID)
}
