package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// StackSummary is one stack as observed in the control plane.
type StackSummary struct {
	Name   string
	Status string
}

// StackClient is the narrow control-plane surface the reconciler needs for
// one account. Implementations are scoped to a single account's credentials.
type StackClient interface {
	// ListStacks returns all stacks currently in a terminal-success status.
	ListStacks(ctx context.Context) ([]StackSummary, error)
	// CreateStack submits a creation request and returns once accepted.
	CreateStack(ctx context.Context, name, body string) error
	// UpdateStack submits an update request and returns once accepted.
	// A control-plane "no updates to perform" response is reported as
	// noChange with a nil error.
	UpdateStack(ctx context.Context, name, body string) (noChange bool, err error)
	// DeleteStack submits a deletion request.
	DeleteStack(ctx context.Context, name string) error
	// WaitForDeleteComplete blocks until the stack deletion reaches a
	// terminal state or the timeout elapses. Expiry is reported as an
	// error matching ErrDeleteWaitTimeout.
	WaitForDeleteComplete(ctx context.Context, name string, timeout time.Duration) error
}

// managedStatusFilter lists the statuses that make a stack eligible for
// update rather than create.
var managedStatusFilter = []types.StackStatus{
	types.StackStatusCreateComplete,
	types.StackStatusUpdateComplete,
}

type cfnStackClient struct {
	client       *cloudformation.Client
	capabilities []types.Capability
}

func newCFNStackClient(client *cloudformation.Client, capabilities []string) *cfnStackClient {
	caps := make([]types.Capability, 0, len(capabilities))
	for _, c := range capabilities {
		caps = append(caps, types.Capability(c))
	}
	return &cfnStackClient{client: client, capabilities: caps}
}

func (c *cfnStackClient) ListStacks(ctx context.Context) ([]StackSummary, error) {
	var stacks []StackSummary
	paginator := cloudformation.NewListStacksPaginator(c.client, &cloudformation.ListStacksInput{
		StackStatusFilter: managedStatusFilter,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, summary := range page.StackSummaries {
			stacks = append(stacks, StackSummary{
				Name:   aws.ToString(summary.StackName),
				Status: string(summary.StackStatus),
			})
		}
	}
	return stacks, nil
}

func (c *cfnStackClient) CreateStack(ctx context.Context, name, body string) error {
	_, err := c.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(name),
		TemplateBody: aws.String(body),
		Capabilities: c.capabilities,
	})
	return err
}

func (c *cfnStackClient) UpdateStack(ctx context.Context, name, body string) (bool, error) {
	_, err := c.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(name),
		TemplateBody: aws.String(body),
		Capabilities: c.capabilities,
	})
	if err != nil && isNoUpdateError(err) {
		return true, nil
	}
	return false, err
}

func (c *cfnStackClient) DeleteStack(ctx context.Context, name string) error {
	_, err := c.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(name),
	})
	return err
}

// ErrDeleteWaitTimeout reports that a stack deletion did not reach a
// terminal state within the bounded wait. Callers distinguish it from a
// deletion that failed outright.
var ErrDeleteWaitTimeout = errors.New("stack delete wait timed out")

func (c *cfnStackClient) WaitForDeleteComplete(ctx context.Context, name string, timeout time.Duration) error {
	// The deadline context governs expiry; the waiter's own max wait is
	// padded past it so the expiry surfaces as a context error we can
	// classify instead of the waiter's free-form message.
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waiter := cloudformation.NewStackDeleteCompleteWaiter(c.client)
	err := waiter.Wait(waitCtx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	}, timeout+time.Minute)
	if err == nil {
		return nil
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("stack %s: %w", name, ErrDeleteWaitTimeout)
	}
	return err
}

// isNoUpdateError recognizes the validation error CloudFormation returns
// when an update request carries a template identical to the deployed one.
// Declared stacks are re-submitted unconditionally, so this is a normal
// outcome, not a failure.
func isNoUpdateError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}
