// ABOUTME: The fixed tool catalog: workflow dispatch, PR review, merge gate, merge, validation
// ABOUTME: Adding or removing a tool is a breaking change to the wire contract

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/octogate/octogate/internal/events"
	"github.com/octogate/octogate/internal/gate"
	"github.com/octogate/octogate/internal/github"
	"github.com/octogate/octogate/internal/registry"
)

// Scope strings guarding the tools.
const (
	ScopeActionsWrite = "actions:write"
	ScopePullsRead    = "pulls:read"
	ScopePullsWrite   = "pulls:write"
)

// Actions is the write surface of the GitHub client used by the tool
// handlers directly (the gate reads through its own interface).
type Actions interface {
	CreateReview(ctx context.Context, owner, repo string, number int, in github.ReviewInput) (*github.Review, error)
	DispatchWorkflow(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]any) error
	RepositoryDispatch(ctx context.Context, owner, repo, eventType string, payload map[string]any) error
}

// handlers holds the collaborators shared by every tool.
type handlers struct {
	gh        Actions
	evaluator *gate.Evaluator
	merger    *gate.Merger
	notifier  *events.Notifier
}

// Catalog builds the fixed tool list in its wire order.
func Catalog(gh Actions, evaluator *gate.Evaluator, merger *gate.Merger, notifier *events.Notifier) []*registry.Tool {
	h := &handlers{gh: gh, evaluator: evaluator, merger: merger, notifier: notifier}

	return []*registry.Tool{
		{
			Descriptor: registry.Descriptor{
				Name:           "dispatch_workflow",
				Title:          "Dispatch Workflow",
				Description:    "Trigger a GitHub Actions workflow run on a branch or tag",
				InputSchema:    json.RawMessage(dispatchWorkflowSchema),
				OutputSchema:   json.RawMessage(dispatchWorkflowOutputSchema),
				RequiredScopes: []string{ScopeActionsWrite},
			},
			Handler: h.DispatchWorkflow,
		},
		{
			Descriptor: registry.Descriptor{
				Name:           "review_pull_request",
				Title:          "Review Pull Request",
				Description:    "Submit an APPROVE, REQUEST_CHANGES, or COMMENT review on a pull request",
				InputSchema:    json.RawMessage(reviewPullRequestSchema),
				OutputSchema:   json.RawMessage(reviewPullRequestOutputSchema),
				RequiredScopes: []string{ScopePullsWrite},
			},
			Handler: h.ReviewPullRequest,
		},
		{
			Descriptor: registry.Descriptor{
				Name:           "check_merge_gate",
				Title:          "Check Merge Gate",
				Description:    "Evaluate pull request readiness: mergeability, status checks, and approvals",
				InputSchema:    json.RawMessage(checkMergeGateSchema),
				OutputSchema:   json.RawMessage(checkMergeGateOutputSchema),
				RequiredScopes: []string{ScopePullsRead},
			},
			Handler: h.CheckMergeGate,
		},
		{
			Descriptor: registry.Descriptor{
				Name:           "merge_pull_request",
				Title:          "Merge Pull Request",
				Description:    "Merge a pull request, refusing unless the merge gate passes",
				InputSchema:    json.RawMessage(mergePullRequestSchema),
				OutputSchema:   json.RawMessage(mergePullRequestOutputSchema),
				RequiredScopes: []string{ScopePullsWrite},
			},
			Handler: h.MergePullRequest,
		},
		{
			Descriptor: registry.Descriptor{
				Name:           "trigger_validation",
				Title:          "Trigger Validation",
				Description:    "Fire a repository_dispatch event asking CI to run validation",
				InputSchema:    json.RawMessage(triggerValidationSchema),
				OutputSchema:   json.RawMessage(triggerValidationOutputSchema),
				RequiredScopes: []string{ScopeActionsWrite},
			},
			Handler: h.TriggerValidation,
		},
	}
}

func (h *handlers) DispatchWorkflow(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in dispatchWorkflowInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	correlationID := fmt.Sprintf("%s/%s@%s", in.Owner, in.Repo, in.Workflow)
	h.notifier.Emit(events.TaskRequested, map[string]any{
		"kind":     "workflow_dispatch",
		"owner":    in.Owner,
		"repo":     in.Repo,
		"workflow": in.Workflow,
		"ref":      in.Ref,
	}, correlationID)

	if err := h.gh.DispatchWorkflow(ctx, in.Owner, in.Repo, in.Workflow, in.Ref, in.Inputs); err != nil {
		return nil, err
	}

	h.notifier.Emit(events.TaskAccepted, map[string]any{
		"kind":     "workflow_dispatch",
		"workflow": in.Workflow,
	}, correlationID)

	return json.Marshal(map[string]any{
		"dispatched": true,
		"workflow":   in.Workflow,
		"ref":        in.Ref,
	})
}

func (h *handlers) ReviewPullRequest(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in reviewPullRequestInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	review, err := h.gh.CreateReview(ctx, in.Owner, in.Repo, in.Number, github.ReviewInput{
		Event: in.Event,
		Body:  in.Body,
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Emit(events.PRReviewed, map[string]any{
		"owner":     in.Owner,
		"repo":      in.Repo,
		"number":    in.Number,
		"event":     in.Event,
		"review_id": review.ID,
	}, fmt.Sprintf("%s/%s#%d", in.Owner, in.Repo, in.Number))

	return json.Marshal(map[string]any{
		"submitted": true,
		"review_id": review.ID,
		"state":     review.State,
	})
}

func (h *handlers) CheckMergeGate(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in checkMergeGateInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	// pr.gated is emitted inside the evaluator
	result, err := h.evaluator.Evaluate(ctx, in.Owner, in.Repo, in.Number)
	if err != nil {
		return nil, err
	}

	return json.Marshal(result)
}

func (h *handlers) MergePullRequest(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in mergePullRequestInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	outcome, err := h.merger.Merge(ctx, in.Owner, in.Repo, in.Number, in.Method)
	if err != nil {
		return nil, err
	}

	return json.Marshal(outcome)
}

func (h *handlers) TriggerValidation(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in triggerValidationInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	eventType := in.EventType
	if eventType == "" {
		eventType = defaultValidationEvent
	}

	correlationID := fmt.Sprintf("%s/%s:%s", in.Owner, in.Repo, eventType)
	h.notifier.Emit(events.TaskRequested, map[string]any{
		"kind":       "repository_dispatch",
		"owner":      in.Owner,
		"repo":       in.Repo,
		"event_type": eventType,
	}, correlationID)

	if err := h.gh.RepositoryDispatch(ctx, in.Owner, in.Repo, eventType, in.Payload); err != nil {
		return nil, err
	}

	h.notifier.Emit(events.TaskAccepted, map[string]any{
		"kind":       "repository_dispatch",
		"event_type": eventType,
	}, correlationID)

	return json.Marshal(map[string]any{
		"triggered":  true,
		"event_type": eventType,
	})
}
