package risk

import (
	"context"
	"errors"
	"sync"
)

// Decision is one approval outcome.
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionApproveAll Decision = "approve_all"
	DecisionRejectAll  Decision = "reject_all"
	DecisionStop       Decision = "stop"
)

// ErrStopped is returned when the approver demands that the whole execution
// abort. It is a controlled cancellation, not a failure.
var ErrStopped = errors.New("risk: execution stopped by approver")

// Request carries everything an approver needs to decide.
type Request struct {
	ToolName    string
	Description string
	Assessment  Assessment
}

// Approver obtains a decision from a human or an auto-policy.
type Approver interface {
	Request(ctx context.Context, req Request) (Decision, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req Request) (Decision, error)

// Request implements Approver.
func (f ApproverFunc) Request(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// AutoApprover approves everything without prompting. Used by the eval
// surface and hands-off runs.
type AutoApprover struct{}

// Request implements Approver.
func (AutoApprover) Request(context.Context, Request) (Decision, error) {
	return DecisionApprove, nil
}

// Gate mediates between the orchestrator and the approval collaborator.
// Once approve_all or reject_all is returned, the sticky decision answers
// every later request in the same run without consulting the collaborator,
// until Reset.
type Gate struct {
	approver Approver

	mu     sync.Mutex
	sticky Decision
}

// NewGate wires a gate to its approval collaborator.
func NewGate(approver Approver) *Gate {
	return &Gate{approver: approver}
}

// RequestApproval resolves a single approval request. DecisionStop is
// surfaced as ErrStopped so callers abort the whole run, not just the
// current tool call.
func (g *Gate) RequestApproval(ctx context.Context, req Request) (Decision, error) {
	g.mu.Lock()
	sticky := g.sticky
	g.mu.Unlock()

	switch sticky {
	case DecisionApproveAll:
		return DecisionApprove, nil
	case DecisionRejectAll:
		return DecisionReject, nil
	}

	if g.approver == nil {
		return DecisionReject, nil
	}

	decision, err := g.approver.Request(ctx, req)
	if err != nil {
		return DecisionReject, err
	}

	switch decision {
	case DecisionApproveAll:
		g.mu.Lock()
		g.sticky = DecisionApproveAll
		g.mu.Unlock()
		return DecisionApprove, nil
	case DecisionRejectAll:
		g.mu.Lock()
		g.sticky = DecisionRejectAll
		g.mu.Unlock()
		return DecisionReject, nil
	case DecisionStop:
		return DecisionStop, ErrStopped
	case DecisionApprove, DecisionReject:
		return decision, nil
	default:
		return DecisionReject, nil
	}
}

// Reset clears any sticky approve_all/reject_all state.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.sticky = ""
	g.mu.Unlock()
}
