package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rvm-io/rvm-server/internal/cloud"
	"github.com/rvm-io/rvm-server/internal/config"
	"github.com/rvm-io/rvm-server/internal/manifest"
)

// Result accumulates the outcomes of one run. Success and Failed entries
// are "templateFile:accountId" pairs, Deleted entries are
// "stackName:accountId" pairs; all three preserve insertion order.
type Result struct {
	Success []string
	Failed  []string
	Deleted []string
	// Outcomes holds every typed per-action result, deletions first per
	// account, then deploys in manifest order.
	Outcomes []Outcome
}

// Event is a progress notification emitted while a run executes.
type Event struct {
	Type      string   `json:"type"` // "phase" or "outcome"
	Phase     string   `json:"phase,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
	Outcome   *Outcome `json:"outcome,omitempty"`
}

// EventFunc receives run events. It may be called from concurrent account
// workers and must be safe for that.
type EventFunc func(Event)

// Coordinator drives the reconciliation loop across all accounts referenced
// by a manifest and aggregates per-action outcomes into a Result. It is the
// only component with cross-account visibility.
type Coordinator struct {
	cfg      *config.Config
	sessions cloud.SessionFactory
	executor *Executor
}

func NewCoordinator(cfg *config.Config, sessions cloud.SessionFactory, executor *Executor) *Coordinator {
	return &Coordinator{cfg: cfg, sessions: sessions, executor: executor}
}

// deployUnit is one (template, account) pair implied by the manifest, in
// manifest order. Its outcome is written exactly once: at desired-state
// build time for unreadable templates, otherwise by the single account
// worker that owns the pair.
type deployUnit struct {
	templateFile string
	accountID    string
	stackName    string
	body         string
	outcome      *Outcome
}

// accountState is the per-account snapshot and cleanup record, owned
// exclusively by that account's worker.
type accountState struct {
	skipped   error
	observed  map[string]string
	deletions []Outcome
}

// Run reconciles every account referenced by the bundle's manifest. A fully
// malformed manifest yields an empty result with a warning; any narrower
// failure is contained in the result so sibling work always proceeds.
func (c *Coordinator) Run(ctx context.Context, bundleDir string, onEvent EventFunc) *Result {
	result := &Result{Success: []string{}, Failed: []string{}, Deleted: []string{}}
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	m, err := manifest.Load(bundleDir)
	if err != nil {
		slog.Warn("manifest unusable, nothing to reconcile", "component", "coordinator", "error", err)
		return result
	}

	units, expected := c.buildDesiredState(bundleDir, m, emit)

	accounts := make([]string, 0, len(expected))
	for accountID := range expected {
		accounts = append(accounts, accountID)
	}
	sort.Strings(accounts)

	states := make(map[string]*accountState, len(accounts))
	unitsByAccount := make(map[string][]*deployUnit, len(accounts))
	for _, unit := range units {
		unitsByAccount[unit.accountID] = append(unitsByAccount[unit.accountID], unit)
	}
	for _, accountID := range accounts {
		states[accountID] = &accountState{}
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.AccountConcurrency)
	for _, accountID := range accounts {
		g.Go(func() error {
			c.reconcileAccount(ctx, accountID, expected[accountID], unitsByAccount[accountID], states[accountID], emit)
			return nil
		})
	}
	_ = g.Wait()

	c.assemble(result, accounts, units, states)
	c.logSummary(result)
	return result
}

// buildDesiredState resolves every manifest entry to its template body and
// expands it into per-account deploy units. An unreadable template marks
// all of the entry's pairs failed up front; the pairs stay in the expected
// set so an existing stack under that name is not treated as an orphan.
func (c *Coordinator) buildDesiredState(bundleDir string, m *manifest.Manifest, emit EventFunc) ([]*deployUnit, map[string]map[string]struct{}) {
	var units []*deployUnit
	expected := make(map[string]map[string]struct{})

	for _, entry := range m.ValidEntries() {
		body, readErr := os.ReadFile(filepath.Join(bundleDir, entry.TemplateFile))
		if readErr != nil {
			slog.Warn("template file not found in bundle", "component", "coordinator", "template_file", entry.TemplateFile, "error", readErr)
		}

		for _, accountID := range entry.Accounts {
			stackName := manifest.StackName(c.cfg.StackPrefix, entry.TemplateFile, accountID)
			if expected[accountID] == nil {
				expected[accountID] = make(map[string]struct{})
			}
			expected[accountID][stackName] = struct{}{}

			unit := &deployUnit{
				templateFile: entry.TemplateFile,
				accountID:    accountID,
				stackName:    stackName,
				body:         string(body),
			}
			if readErr != nil {
				unit.outcome = &Outcome{
					Kind:         OutcomeTemplateMissing,
					TemplateFile: entry.TemplateFile,
					StackName:    stackName,
					AccountID:    accountID,
					Detail:       readErr.Error(),
				}
				emit(Event{Type: "outcome", AccountID: accountID, Outcome: unit.outcome})
			}
			units = append(units, unit)
		}
	}
	return units, expected
}

// reconcileAccount runs the full per-account flow: issue a scoped session,
// snapshot managed stacks, settle all orphan deletions, then submit the
// account's deploys. The snapshot is read once; the deploy phase acts on it
// even if the control plane changes in between (accepted staleness window,
// the next run re-reads current state).
func (c *Coordinator) reconcileAccount(ctx context.Context, accountID string, expected map[string]struct{}, units []*deployUnit, state *accountState, emit EventFunc) {
	skip := func(err error) {
		slog.Error("skipping all reconciliation for account", "component", "coordinator", "account", accountID, "error", err)
		state.skipped = err
		for _, unit := range units {
			if unit.outcome != nil {
				continue
			}
			unit.outcome = &Outcome{
				Kind:         OutcomeAccountSkipped,
				TemplateFile: unit.templateFile,
				StackName:    unit.stackName,
				AccountID:    accountID,
				Detail:       err.Error(),
			}
			emit(Event{Type: "outcome", AccountID: accountID, Outcome: unit.outcome})
		}
	}

	client, err := c.sessions.ForAccount(ctx, accountID)
	if err != nil {
		skip(&AssumeRoleError{AccountID: accountID, Err: err})
		return
	}

	observed, err := cloud.ListManaged(ctx, client, c.cfg.StackPrefix)
	if err != nil {
		skip(&StateReadError{AccountID: accountID, Err: err})
		return
	}
	state.observed = observed

	plan := BuildPlan(expected, observed)
	slog.Info("account plan computed", "component", "coordinator", "account", accountID,
		"create", len(plan.ToCreate), "update", len(plan.ToUpdate), "delete", len(plan.ToDelete))

	emit(Event{Type: "phase", Phase: "cleanup", AccountID: accountID})
	for _, stackName := range plan.ToDelete {
		outcome := c.executor.Delete(ctx, client, stackName, accountID)
		state.deletions = append(state.deletions, outcome)
		emit(Event{Type: "outcome", AccountID: accountID, Outcome: &outcome})
	}

	emit(Event{Type: "phase", Phase: "deploy", AccountID: accountID})
	for _, unit := range units {
		if unit.outcome != nil {
			continue
		}
		_, exists := observed[unit.stackName]
		outcome := c.executor.Deploy(ctx, client, unit.templateFile, unit.stackName, accountID, unit.body, exists)
		unit.outcome = &outcome
		emit(Event{Type: "outcome", AccountID: accountID, Outcome: unit.outcome})
	}
}

// assemble produces the deterministic report: deletions grouped by sorted
// account in plan order, then every pair in manifest order.
func (c *Coordinator) assemble(result *Result, accounts []string, units []*deployUnit, states map[string]*accountState) {
	for _, accountID := range accounts {
		for _, outcome := range states[accountID].deletions {
			result.Outcomes = append(result.Outcomes, outcome)
			if outcome.Kind == OutcomeDeleted {
				result.Deleted = append(result.Deleted, outcome.StackName+":"+outcome.AccountID)
			}
		}
	}

	for _, unit := range units {
		if unit.outcome == nil {
			// Account had no worker (not expected), treat as skipped.
			unit.outcome = &Outcome{
				Kind:         OutcomeAccountSkipped,
				TemplateFile: unit.templateFile,
				StackName:    unit.stackName,
				AccountID:    unit.accountID,
				Detail:       "account was not processed",
			}
		}
		result.Outcomes = append(result.Outcomes, *unit.outcome)
		pair := unit.templateFile + ":" + unit.accountID
		if unit.outcome.Failed() {
			result.Failed = append(result.Failed, pair)
		} else {
			result.Success = append(result.Success, pair)
		}
	}
}

func (c *Coordinator) logSummary(result *Result) {
	slog.Info("reconciliation complete", "component", "coordinator",
		"success", len(result.Success), "failed", len(result.Failed), "deleted", len(result.Deleted))
	if len(result.Failed) > 0 {
		slog.Warn("failed deployments", "component", "coordinator", "pairs", result.Failed)
	}
	if len(result.Deleted) > 0 {
		slog.Info("deleted stacks", "component", "coordinator", "stacks", result.Deleted)
	}
}
