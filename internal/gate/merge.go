// ABOUTME: Merge orchestrator composing the readiness gate with the upstream merge action
// ABOUTME: Refuses to call the merge API at all while the gate is blocked

package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/octogate/octogate/internal/events"
	"github.com/octogate/octogate/internal/github"
)

// MergeAPI extends the gate's read surface with the merge action.
type MergeAPI interface {
	API
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*github.MergeResult, error)
}

// Valid merge methods accepted by the orchestrator.
const (
	MethodMerge  = "merge"
	MethodSquash = "squash"
	MethodRebase = "rebase"
)

// Outcome is the merge result reported to the caller. Merged=false is a
// negative result, not an error.
type Outcome struct {
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// Merger gates and executes pull request merges.
type Merger struct {
	api       MergeAPI
	evaluator *Evaluator
	notifier  *events.Notifier
	logger    *slog.Logger
}

// NewMerger creates a merge orchestrator sharing the given evaluator.
func NewMerger(api MergeAPI, evaluator *Evaluator, notifier *events.Notifier, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		api:       api,
		evaluator: evaluator,
		notifier:  notifier,
		logger:    logger.With("component", "merge"),
	}
}

// Merge runs the readiness gate and, only when it passes, invokes the
// upstream merge with the requested method (default "merge"). A blocked gate
// fails fast: the upstream merge API is never called.
func (m *Merger) Merge(ctx context.Context, owner, repo string, number int, method string) (*Outcome, error) {
	if method == "" {
		method = MethodMerge
	}
	switch method {
	case MethodMerge, MethodSquash, MethodRebase:
	default:
		return nil, fmt.Errorf("invalid merge method %q", method)
	}

	result, err := m.evaluator.Evaluate(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	correlationID := fmt.Sprintf("%s/%s#%d", owner, repo, number)

	if result.Blocked() {
		messages := make([]string, 0, len(result.Reasons))
		for _, reason := range result.Reasons {
			messages = append(messages, reason.Message)
		}
		m.logger.Info("merge refused by gate",
			"pr", correlationID,
			"reason_count", len(result.Reasons),
		)
		return &Outcome{
			Merged:  false,
			Message: "PR blocked: " + strings.Join(messages, "; "),
		}, nil
	}

	merged, err := m.api.MergePullRequest(ctx, owner, repo, number, method)
	if err != nil {
		return nil, err
	}

	if !merged.Merged {
		// Upstream declined (e.g. head moved between gate and merge).
		// Propagate its message verbatim.
		return &Outcome{Merged: false, Message: merged.Message}, nil
	}

	m.notifier.Emit(events.PRMerged, map[string]any{
		"owner":  owner,
		"repo":   repo,
		"number": number,
		"method": method,
		"sha":    merged.SHA,
	}, correlationID)

	m.logger.Info("pull request merged",
		"pr", correlationID,
		"method", method,
		"sha", merged.SHA,
	)

	return &Outcome{Merged: true, Message: merged.Message}, nil
}
