// Package model defines the vendor-neutral contract between the streaming
// session and concrete language model providers, plus a scripted test double.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudchat/cloudchat/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a minimal JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the session.
type Request struct {
	Contents []core.Content   `json:"contents"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model. A partial chunk
// carries either one text fragment or one snapshot of an assembling function
// call; the final chunk carries the complete turn content.
type Response struct {
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", ...
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation. Generate
// returns a response channel and an error channel; both are closed when the
// call finishes. Events are delivered one at a time in order on a
// client-owned goroutine.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// TextDelta builds a partial assistant text fragment chunk.
func TextDelta(text string) Response {
	return Response{Partial: true, Content: core.NewTextContent("assistant", text)}
}

// ToolCallDelta builds a partial chunk carrying a snapshot of an assembling
// function call (arguments possibly incomplete).
func ToolCallDelta(id, name, args string) Response {
	return Response{
		Partial: true,
		Content: core.Content{
			Role:  "assistant",
			Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}}},
		},
	}
}

// FinalResponse builds the terminal chunk of a turn with the full text and
// any complete function calls.
func FinalResponse(text string, calls ...core.FunctionCall) Response {
	parts := make([]core.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	}
	for _, c := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}
	return Response{
		Partial:      false,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finish,
	}
}

// ScriptedTurn is the chunk sequence one Generate call replays, or a terminal
// error standing in for a transport failure.
type ScriptedTurn struct {
	Responses []Response
	Err       error
}

// ScriptedModel is a deterministic in-memory Model for tests. Each Generate
// call consumes the next scripted turn and replays its chunks in order,
// mirroring the delivery contract of the real adapters.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	requests []Request
}

// NewScriptedModel constructs a ScriptedModel that replays the given turns.
func NewScriptedModel(turns ...ScriptedTurn) *ScriptedModel {
	return &ScriptedModel{turns: turns}
}

// Requests returns a copy of every Request observed, in call order.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model by replaying the next scripted turn.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var turn ScriptedTurn
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	} else {
		turn = ScriptedTurn{Err: fmt.Errorf("scripted model: no turns remaining")}
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		for _, resp := range turn.Responses {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- resp:
			}
		}
		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: "scripted", Provider: "test", SupportsTools: true}
}
