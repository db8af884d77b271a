package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rvm-io/rvm-server/internal/cloud"
)

// OutcomeKind classifies the result of one planned action.
type OutcomeKind string

const (
	OutcomeCreated         OutcomeKind = "created"
	OutcomeUpdated         OutcomeKind = "updated"
	OutcomeNoChange        OutcomeKind = "no_change"
	OutcomeDeleted         OutcomeKind = "deleted"
	OutcomeDeployFailed    OutcomeKind = "deploy_failed"
	OutcomeDeleteFailed    OutcomeKind = "delete_failed"
	OutcomeDeleteTimeout   OutcomeKind = "delete_timeout"
	OutcomeTemplateMissing OutcomeKind = "template_missing"
	OutcomeAccountSkipped  OutcomeKind = "account_skipped"
)

// Outcome is the typed result of one action against one account. The run
// coordinator aggregates these instead of catching errors at arbitrary
// depth.
type Outcome struct {
	Kind         OutcomeKind `json:"kind"`
	TemplateFile string      `json:"template_file,omitempty"`
	StackName    string      `json:"stack_name,omitempty"`
	AccountID    string      `json:"account_id"`
	Detail       string      `json:"detail,omitempty"`
}

// Failed reports whether the outcome counts toward the run's failed list.
func (o Outcome) Failed() bool {
	switch o.Kind {
	case OutcomeDeployFailed, OutcomeTemplateMissing, OutcomeAccountSkipped:
		return true
	}
	return false
}

// Executor applies single planned actions against one account's session and
// classifies the result. It holds no state beyond its timeouts.
type Executor struct {
	deleteWaitTimeout time.Duration
}

func NewExecutor(deleteWaitTimeout time.Duration) *Executor {
	return &Executor{deleteWaitTimeout: deleteWaitTimeout}
}

// Deploy submits a create or update for one declared stack, decided by
// whether the stack is already in the account's managed snapshot. It
// returns once the control plane accepts the request; the operation is left
// in flight and its eventual status is not re-observed by this run.
func (e *Executor) Deploy(ctx context.Context, client cloud.StackClient, templateFile, stackName, accountID, body string, exists bool) Outcome {
	outcome := Outcome{
		TemplateFile: templateFile,
		StackName:    stackName,
		AccountID:    accountID,
	}

	if exists {
		slog.Info("stack exists, updating", "component", "executor", "stack", stackName, "account", accountID)
		noChange, err := client.UpdateStack(ctx, stackName, body)
		if err != nil {
			slog.Error("failed to update stack", "component", "executor", "stack", stackName, "account", accountID, "error", err)
			outcome.Kind = OutcomeDeployFailed
			outcome.Detail = err.Error()
			return outcome
		}
		if noChange {
			slog.Info("stack already up to date", "component", "executor", "stack", stackName, "account", accountID)
			outcome.Kind = OutcomeNoChange
			return outcome
		}
		slog.Info("started update of stack", "component", "executor", "stack", stackName, "account", accountID)
		outcome.Kind = OutcomeUpdated
		return outcome
	}

	slog.Info("creating new stack", "component", "executor", "stack", stackName, "account", accountID)
	if err := client.CreateStack(ctx, stackName, body); err != nil {
		slog.Error("failed to create stack", "component", "executor", "stack", stackName, "account", accountID, "error", err)
		outcome.Kind = OutcomeDeployFailed
		outcome.Detail = err.Error()
		return outcome
	}
	slog.Info("started creation of stack", "component", "executor", "stack", stackName, "account", accountID)
	outcome.Kind = OutcomeCreated
	return outcome
}

// Delete submits a stack deletion and blocks until the control plane
// reports terminal completion or the bounded wait elapses. Deletion is
// synchronous by design so the orphan-cleanup phase fully settles before
// deploy begins for the account.
func (e *Executor) Delete(ctx context.Context, client cloud.StackClient, stackName, accountID string) Outcome {
	outcome := Outcome{StackName: stackName, AccountID: accountID}

	if err := client.DeleteStack(ctx, stackName); err != nil {
		slog.Error("failed to delete stack", "component", "executor", "stack", stackName, "account", accountID, "error", err)
		outcome.Kind = OutcomeDeleteFailed
		outcome.Detail = err.Error()
		return outcome
	}
	slog.Info("started deletion of stack", "component", "executor", "stack", stackName, "account", accountID)

	if err := client.WaitForDeleteComplete(ctx, stackName, e.deleteWaitTimeout); err != nil {
		slog.Error("failed waiting for stack deletion", "component", "executor", "stack", stackName, "account", accountID, "error", err)
		if isWaitTimeout(err) {
			outcome.Kind = OutcomeDeleteTimeout
		} else {
			outcome.Kind = OutcomeDeleteFailed
		}
		outcome.Detail = err.Error()
		return outcome
	}

	slog.Info("successfully deleted stack", "component", "executor", "stack", stackName, "account", accountID)
	outcome.Kind = OutcomeDeleted
	return outcome
}

func isWaitTimeout(err error) bool {
	return errors.Is(err, cloud.ErrDeleteWaitTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
