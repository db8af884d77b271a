package reconcile

import "fmt"

// AssumeRoleError reports that the workflow role in one target account could
// not be assumed. All reconciliation for that account is skipped this run.
type AssumeRoleError struct {
	AccountID string
	Err       error
}

func (e *AssumeRoleError) Error() string {
	return fmt.Sprintf("failed to assume role in account %s: %v", e.AccountID, e.Err)
}

func (e *AssumeRoleError) Unwrap() error { return e.Err }

// StateReadError reports that an account's managed-stack snapshot could not
// be read. The account's state is unknown, so both deletion and deploy are
// skipped for it this run rather than acting on a guess.
type StateReadError struct {
	AccountID string
	Err       error
}

func (e *StateReadError) Error() string {
	return fmt.Sprintf("failed to read stack state in account %s: %v", e.AccountID, e.Err)
}

func (e *StateReadError) Unwrap() error { return e.Err }
