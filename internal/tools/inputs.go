// ABOUTME: Typed inputs and validation for the fixed tool catalog
// ABOUTME: Wire schemas are kept adjacent to the structs they describe

package tools

import (
	"fmt"
)

// repoTarget is the owner/repo pair every tool input carries.
type repoTarget struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (t repoTarget) validate() error {
	if t.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if t.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	return nil
}

// dispatchWorkflowInput triggers a workflow_dispatch event.
type dispatchWorkflowInput struct {
	repoTarget
	Workflow string         `json:"workflow"`
	Ref      string         `json:"ref"`
	Inputs   map[string]any `json:"inputs,omitempty"`
}

const dispatchWorkflowSchema = `{
  "type": "object",
  "properties": {
    "owner": {"type": "string"},
    "repo": {"type": "string"},
    "workflow": {"type": "string", "description": "Workflow file name or numeric ID"},
    "ref": {"type": "string", "description": "Branch or tag to run the workflow on"},
    "inputs": {"type": "object"}
  },
  "required": ["owner", "repo", "workflow", "ref"]
}`

const dispatchWorkflowOutputSchema = `{
  "type": "object",
  "properties": {
    "dispatched": {"type": "boolean"},
    "workflow": {"type": "string"},
    "ref": {"type": "string"}
  },
  "required": ["dispatched"]
}`

func (in dispatchWorkflowInput) Validate() error {
	if err := in.repoTarget.validate(); err != nil {
		return err
	}
	if in.Workflow == "" {
		return fmt.Errorf("workflow is required")
	}
	if in.Ref == "" {
		return fmt.Errorf("ref is required")
	}
	return nil
}

// triggerValidationInput fires a repository_dispatch validation event.
type triggerValidationInput struct {
	repoTarget
	EventType string         `json:"event_type,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// defaultValidationEvent is the repository_dispatch event type used when the
// caller does not name one.
const defaultValidationEvent = "validation_requested"

const triggerValidationSchema = `{
  "type": "object",
  "properties": {
    "owner": {"type": "string"},
    "repo": {"type": "string"},
    "event_type": {"type": "string", "description": "repository_dispatch event type, defaults to validation_requested"},
    "payload": {"type": "object"}
  },
  "required": ["owner", "repo"]
}`

const triggerValidationOutputSchema = `{
  "type": "object",
  "properties": {
    "triggered": {"type": "boolean"},
    "event_type": {"type": "string"}
  },
  "required": ["triggered"]
}`

func (in triggerValidationInput) Validate() error {
	return in.repoTarget.validate()
}

// reviewPullRequestInput submits a pull request review.
type reviewPullRequestInput struct {
	repoTarget
	Number int    `json:"number"`
	Event  string `json:"event"`
	Body   string `json:"body,omitempty"`
}

const reviewPullRequestSchema = `{
  "type": "object",
  "properties": {
    "owner": {"type": "string"},
    "repo": {"type": "string"},
    "number": {"type": "integer"},
    "event": {"type": "string", "enum": ["APPROVE", "REQUEST_CHANGES", "COMMENT"]},
    "body": {"type": "string"}
  },
  "required": ["owner", "repo", "number", "event"]
}`

const reviewPullRequestOutputSchema = `{
  "type": "object",
  "properties": {
    "submitted": {"type": "boolean"},
    "review_id": {"type": "integer"},
    "state": {"type": "string"}
  },
  "required": ["submitted"]
}`

func (in reviewPullRequestInput) Validate() error {
	if err := in.repoTarget.validate(); err != nil {
		return err
	}
	if in.Number <= 0 {
		return fmt.Errorf("number must be positive")
	}
	switch in.Event {
	case "APPROVE":
	case "REQUEST_CHANGES", "COMMENT":
		// GitHub rejects these without a body
		if in.Body == "" {
			return fmt.Errorf("body is required for %s reviews", in.Event)
		}
	default:
		return fmt.Errorf("event must be one of APPROVE, REQUEST_CHANGES, COMMENT")
	}
	return nil
}

// checkMergeGateInput evaluates the readiness gate without merging.
type checkMergeGateInput struct {
	repoTarget
	Number int `json:"number"`
}

const checkMergeGateSchema = `{
  "type": "object",
  "properties": {
    "owner": {"type": "string"},
    "repo": {"type": "string"},
    "number": {"type": "integer"}
  },
  "required": ["owner", "repo", "number"]
}`

const checkMergeGateOutputSchema = `{
  "type": "object",
  "properties": {
    "verdict": {"type": "string", "enum": ["ok", "blocked"]},
    "reasons": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "kind": {"type": "string", "enum": ["mergeable", "status_checks", "approvals"]},
          "message": {"type": "string"}
        },
        "required": ["kind", "message"]
      }
    },
    "mergeable_state": {"type": "string"}
  },
  "required": ["verdict", "reasons"]
}`

func (in checkMergeGateInput) Validate() error {
	if err := in.repoTarget.validate(); err != nil {
		return err
	}
	if in.Number <= 0 {
		return fmt.Errorf("number must be positive")
	}
	return nil
}

// mergePullRequestInput gates and merges a pull request.
type mergePullRequestInput struct {
	repoTarget
	Number int    `json:"number"`
	Method string `json:"method,omitempty"`
}

const mergePullRequestSchema = `{
  "type": "object",
  "properties": {
    "owner": {"type": "string"},
    "repo": {"type": "string"},
    "number": {"type": "integer"},
    "method": {"type": "string", "enum": ["merge", "squash", "rebase"], "description": "Defaults to merge"}
  },
  "required": ["owner", "repo", "number"]
}`

const mergePullRequestOutputSchema = `{
  "type": "object",
  "properties": {
    "merged": {"type": "boolean"},
    "message": {"type": "string"}
  },
  "required": ["merged", "message"]
}`

func (in mergePullRequestInput) Validate() error {
	if err := in.repoTarget.validate(); err != nil {
		return err
	}
	if in.Number <= 0 {
		return fmt.Errorf("number must be positive")
	}
	switch in.Method {
	case "", "merge", "squash", "rebase":
	default:
		return fmt.Errorf("method must be one of merge, squash, rebase")
	}
	return nil
}
