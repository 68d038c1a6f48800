// ABOUTME: Pull request readiness gate aggregating mergeability, CI status, and approvals
// ABOUTME: Pure single-pass aggregation; all three checks always run, no caching

package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/octogate/octogate/internal/events"
	"github.com/octogate/octogate/internal/github"
)

// API is the subset of the GitHub client the evaluator reads from.
type API interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	ListCommitStatuses(ctx context.Context, owner, repo, ref string) ([]github.CommitStatus, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]github.Review, error)
}

// ReasonKind identifies which check produced a blocking reason.
type ReasonKind string

const (
	ReasonMergeable    ReasonKind = "mergeable"
	ReasonStatusChecks ReasonKind = "status_checks"
	ReasonApprovals    ReasonKind = "approvals"
)

// Reason explains one blocking condition.
type Reason struct {
	Kind    ReasonKind `json:"kind"`
	Message string     `json:"message"`
}

// Verdict is the gate outcome.
type Verdict string

const (
	VerdictOK      Verdict = "ok"
	VerdictBlocked Verdict = "blocked"
)

// Result is the gate verdict with its full reason list. Reasons appear in a
// fixed order: mergeable first, then status checks, then approvals. An empty
// list implies OK. Derived fresh on every evaluation.
type Result struct {
	Verdict        Verdict  `json:"verdict"`
	Reasons        []Reason `json:"reasons"`
	MergeableState string   `json:"mergeable_state,omitempty"`
}

// Blocked reports whether the verdict is BLOCKED.
func (r *Result) Blocked() bool {
	return r.Verdict == VerdictBlocked
}

// Evaluator computes pull request readiness.
type Evaluator struct {
	api      API
	notifier *events.Notifier
	logger   *slog.Logger
}

// NewEvaluator creates a gate evaluator.
func NewEvaluator(api API, notifier *events.Notifier, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		api:      api,
		notifier: notifier,
		logger:   logger.With("component", "gate"),
	}
}

// Evaluate fetches mergeability, status checks, and reviews for the pull
// request and aggregates them into a verdict. All three checks always run so
// the caller sees the complete reason list even when several conditions fail
// at once.
func (e *Evaluator) Evaluate(ctx context.Context, owner, repo string, number int) (*Result, error) {
	pr, err := e.api.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request: %w", err)
	}

	statuses, err := e.api.ListCommitStatuses(ctx, owner, repo, pr.Head.SHA)
	if err != nil {
		return nil, fmt.Errorf("fetching status checks: %w", err)
	}

	reviews, err := e.api.ListReviews(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching reviews: %w", err)
	}

	reasons := make([]Reason, 0, 3)

	// Mergeability. Only an explicit false blocks; null (still computing)
	// is treated the same as true. That asymmetry is inherited behavior,
	// not a deliberate policy.
	if pr.Mergeable != nil && !*pr.Mergeable {
		state := pr.MergeableState
		if state == "" {
			state = "unknown"
		}
		reasons = append(reasons, Reason{
			Kind:    ReasonMergeable,
			Message: fmt.Sprintf("pull request is not mergeable (state: %s)", state),
		})
	}

	// Status checks, in the order the upstream returned them.
	var failing []string
	for _, status := range statuses {
		if status.State != "success" {
			failing = append(failing, status.Context+":"+status.State)
		}
	}
	if len(failing) > 0 {
		reasons = append(reasons, Reason{
			Kind:    ReasonStatusChecks,
			Message: strings.Join(failing, ", "),
		})
	}

	// Approvals.
	approvals := 0
	for _, review := range reviews {
		if review.State == "APPROVED" {
			approvals++
		}
	}
	if approvals == 0 {
		reasons = append(reasons, Reason{
			Kind:    ReasonApprovals,
			Message: "No approving reviews",
		})
	}

	verdict := VerdictOK
	if len(reasons) > 0 {
		verdict = VerdictBlocked
	}

	result := &Result{
		Verdict:        verdict,
		Reasons:        reasons,
		MergeableState: pr.MergeableState,
	}

	correlationID := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	e.notifier.Emit(events.PRGated, map[string]any{
		"owner":   owner,
		"repo":    repo,
		"number":  number,
		"verdict": string(verdict),
		"reasons": reasons,
	}, correlationID)

	e.logger.Debug("gate evaluated",
		"pr", correlationID,
		"verdict", verdict,
		"reason_count", len(reasons),
	)

	return result, nil
}
