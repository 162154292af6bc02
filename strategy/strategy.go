// Package strategy maps tool invocations to the wire events announcing them.
// Each capability family can register its own rendering; the session asks the
// Set for the first strategy claiming the invocation's tool id.
package strategy

import (
	"strings"

	"github.com/cloudchat/cloudchat/core"
)

// Strategy renders tool invocations of one capability family as wire events.
type Strategy interface {
	// Supports reports whether this strategy renders the given tool id.
	Supports(toolID string) bool

	// Format renders the invocation. A pending invocation (completed=false)
	// carries the arguments observed so far; a completed one adds the
	// response.
	Format(inv core.ToolInvocation, completed bool) core.Event
}

// Set holds strategies in registration order. Lookup is first-match.
type Set struct {
	strategies []Strategy
}

// NewSet constructs a Set over the given strategies.
func NewSet(strategies ...Strategy) *Set {
	return &Set{strategies: strategies}
}

// Register appends a strategy to the lookup order.
func (s *Set) Register(st Strategy) { s.strategies = append(s.strategies, st) }

// Format renders the invocation using the first supporting strategy.
// Selection tries the tool id first and falls back to the tool name, since
// some providers assign opaque call ids that carry no family marker. The
// second return is false when no registered strategy claims the invocation,
// in which case it produces no wire event.
func (s *Set) Format(inv core.ToolInvocation, completed bool) (core.Event, bool) {
	for _, st := range s.strategies {
		if st.Supports(inv.ToolID) || st.Supports(inv.ToolName) {
			return st.Format(inv, completed), true
		}
	}
	return core.Event{}, false
}

// AWS renders invocations of the AWS tool families. It claims every tool id
// containing the "aws_" marker, covering both the S3 and EC2 families.
type AWS struct{}

// NewAWS constructs the AWS rendering strategy.
func NewAWS() *AWS { return &AWS{} }

// Supports reports whether the tool id belongs to an AWS family.
func (*AWS) Supports(toolID string) bool { return strings.Contains(toolID, "aws_") }

// Format renders the invocation as a toolCalling event.
func (*AWS) Format(inv core.ToolInvocation, completed bool) core.Event {
	return core.NewToolCallingEvent(inv, completed)
}

// Default returns the strategy set used when the caller supplies none.
func Default() *Set { return NewSet(NewAWS()) }

var _ Strategy = (*AWS)(nil)
