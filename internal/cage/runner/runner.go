// Package runner orchestrates a single request end-to-end: obtain a
// container assignment, subscribe to its output, push one input record,
// wait for the terminal result, and translate it into a Result (spec.md
// §4.7). Run leaves the container assigned to the session; Stop releases it.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/config"
	"github.com/grantharris33/clawdbot/internal/cage/pool"
	"github.com/grantharris33/clawdbot/internal/cage/stream"
	"github.com/grantharris33/clawdbot/internal/cage/wrapperapi"
)

// DefaultTimeout is applied when a Request leaves Timeout unset (spec.md §5).
const DefaultTimeout = 10 * time.Minute

// Request describes one end-to-end run (spec.md §4.7).
type Request struct {
	Session           string
	AgentID           string
	Prompt      string
	Attachments []wrapperapi.Attachment
	// WorkspacePath is the host-side directory bind-mounted into the
	// container.
	WorkspacePath     string
	ExtraSystemPrompt string
	Model             string
	AgentConfig       string
	Timeout           time.Duration

	// OutputCallback, if set, is invoked for every parsed output record
	// emitted for the duration of the call.
	OutputCallback func(stream.Message)
	// ResultCallback, if set, is invoked once with the final Result.
	ResultCallback func(Result)
}

// Result is the public, translated outcome of a run (spec.md §4.7 step 4).
type Result struct {
	Text           *string
	Usage          stream.Usage
	DurationMillis int64
	ExitCode       int
	AgentSessionID *string
}

// Runner ties the pool manager and broker together for request orchestration.
type Runner struct {
	mgr *pool.Manager
	brk *broker.Client
}

// New constructs a Runner. Construction is idempotent: calling New again
// with the same subsystems produces an equivalent, independent Runner.
func New(mgr *pool.Manager, brk *broker.Client) *Runner {
	return &Runner{mgr: mgr, brk: brk}
}

// Run executes req end-to-end (spec.md §4.7).
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := config.ValidateAgentConfig(req.AgentConfig); err != nil {
		return Result{}, fmt.Errorf("runner: %w", err)
	}

	_, err := r.mgr.Assign(ctx, pool.AssignRequest{
		Session:       req.Session,
		AgentID:       req.AgentID,
		WorkspacePath: req.WorkspacePath,
		AgentConfig:   req.AgentConfig,
	})
	if err != nil {
		return Result{}, fmt.Errorf("runner: assign: %w", err)
	}

	var unsubscribe broker.Unsubscribe
	if req.OutputCallback != nil {
		parser := stream.New(func(msg stream.Message) {
			req.OutputCallback(msg)
		})
		unsubscribe = r.brk.SubscribeOutput(ctx, req.Session, func(payload []byte) {
			parser.Feed(payload)
		})
		defer unsubscribe()
	}

	input := wrapperapi.InputRecord{
		Prompt:            req.Prompt,
		Attachments:       req.Attachments,
		ExtraSystemPrompt: req.ExtraSystemPrompt,
		Model:             req.Model,
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return Result{}, fmt.Errorf("runner: marshal input: %w", err)
	}
	if err := r.brk.SendInput(ctx, req.Session, payload); err != nil {
		return Result{}, fmt.Errorf("runner: send input: %w", err)
	}

	raw, err := r.brk.WaitForResult(ctx, req.Session, timeout)
	result := r.translate(req.Session, raw, err)

	if req.ResultCallback != nil {
		req.ResultCallback(result)
	}

	return result, nil
}

// translate converts a terminal record (or a timeout) into the public
// Result shape (spec.md §4.7 step 4, §7's Timeout semantics).
func (r *Runner) translate(session string, raw []byte, waitErr error) Result {
	if waitErr != nil {
		return Result{Usage: stream.Usage{}}
	}

	msg, err := stream.Classify(raw)
	if err != nil {
		return Result{Usage: stream.Usage{}}
	}

	result := Result{
		Text:  msg.Result,
		Usage: msg.Usage,
	}
	if msg.DurationMillis != nil {
		result.DurationMillis = *msg.DurationMillis
	}
	if msg.Subtype == stream.SubtypeError {
		result.ExitCode = 1
	}

	if st, ok, err := r.brk.GetState(context.Background(), session); err == nil && ok && st.AgentSessionID != "" {
		result.AgentSessionID = &st.AgentSessionID
	}
	if msg.AgentSessionID != nil {
		result.AgentSessionID = msg.AgentSessionID
	}

	return result
}

// Stop publishes a stop interrupt then releases the container: it goes back
// to the warm pool if that is below its floor and is destroyed otherwise
// (spec.md §4.7).
func (r *Runner) Stop(ctx context.Context, session string) error {
	payload, err := json.Marshal(wrapperapi.Interrupt{Type: wrapperapi.InterruptStop})
	if err != nil {
		return fmt.Errorf("runner: marshal stop interrupt: %w", err)
	}
	if err := r.brk.SendInterrupt(ctx, session, payload); err != nil {
		return fmt.Errorf("runner: send stop interrupt: %w", err)
	}
	return r.mgr.Release(ctx, session, true)
}

// GetStatus returns the session's broker state record.
func (r *Runner) GetStatus(ctx context.Context, session string) (broker.State, bool, error) {
	return r.brk.GetState(ctx, session)
}

// SendInterrupt dispatches an arbitrary interrupt via the broker.
func (r *Runner) SendInterrupt(ctx context.Context, session string, interrupt wrapperapi.Interrupt) error {
	payload, err := json.Marshal(interrupt)
	if err != nil {
		return fmt.Errorf("runner: marshal interrupt: %w", err)
	}
	return r.brk.SendInterrupt(ctx, session, payload)
}

// Teardown cascades shutdown to the pool manager and broker client.
func (r *Runner) Teardown(ctx context.Context) {
	r.mgr.Shutdown(ctx)
	if err := r.brk.Close(); err != nil {
		_ = err
	}
}
