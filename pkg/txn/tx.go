package txn

import (
	"fmt"
	"sync"

	"github.com/kasloop/netconfd/pkg/vtree"
)

// EditType distinguishes a full-datastore replace (<copy-config>) from a
// partial edit (<edit-config>), since root-check scope and undo recovery
// differ between the two.
type EditType int

const (
	EditPartial EditType = iota
	EditFull
)

// PhaseResult is the outcome of one of a transaction's three checkpoints.
type PhaseResult int

const (
	PhaseSkipped PhaseResult = iota
	PhaseOK
	PhaseFailed
)

// AuditRecord is one effective edit queued for the audit trail, consumed
// after a successful commit.
type AuditRecord struct {
	InstanceID string
	Op         vtree.EditOp
}

// CommitTest caches a compiled must/when/unique check's last evaluation so
// RootCheck doesn't re-evaluate XPath expressions unaffected by an edit.
// Eval is supplied by the caller (the schema/XPath layer); txn only owns
// the cache slot and the last-known result.
type CommitTest struct {
	Expr      string
	Node      *vtree.Node
	LastTxID  uint64
	LastOK    bool
	LastError string
}

// Tx is the transaction control block for one in-flight edit against a
// single datastore. Field names follow spec.md §3's Tx/TCB description:
// a transaction id, the datastore it targets, edit type and flags, queued
// undo/audit/dead-node records, and the three phase results.
type Tx struct {
	mu sync.Mutex

	ID       uint64
	CfgID    string
	EditType EditType

	RootCheckNeeded bool
	CommitCheck     bool
	IsValidate      bool
	StartBad        bool

	PreApplyResult  PhaseResult
	ApplyResult     PhaseResult
	RollbackResult  PhaseResult

	Undo   []*Undo
	Arena  Arena
	Audit  []AuditRecord
	Dead   []*vtree.Node // when-false nodes queued for removal during root-check
	Tests  []*CommitTest
	Warnings []string
}

// New constructs a Tx bound to an allocated id.
func New(id uint64, cfgID string, editType EditType, rootCheck, isValidate bool) *Tx {
	return &Tx{
		ID:              id,
		CfgID:           cfgID,
		EditType:        editType,
		RootCheckNeeded: rootCheck,
		IsValidate:      isValidate,
	}
}

// PushUndo appends u to the transaction's undo log. Call this at the same
// point the forward edit is applied to the live tree, so the log always
// reflects edits already performed.
func (t *Tx) PushUndo(u *Undo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Undo = append(t.Undo, u)
}

// QueueAudit records an effective edit for later consumption by the audit
// trail, performed only once the transaction has committed.
func (t *Tx) QueueAudit(instanceID string, op vtree.EditOp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Audit = append(t.Audit, AuditRecord{InstanceID: instanceID, Op: op})
}

// QueueDead marks n (a when-false node) for removal during root-check.
func (t *Tx) QueueDead(n *vtree.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Dead = append(t.Dead, n)
}

// PreApply records a PhaseOK result for the pre-apply phase; it runs no
// checks of its own, since this package has no schema access. Schema-aware
// checks (mandatory/min-max/unique) run in
// RootCheck, which the caller invokes after all edits in the transaction
// have been applied.
func (t *Tx) PreApply() error {
	t.PreApplyResult = PhaseOK
	return nil
}

// Apply marks the apply phase complete. The tree mutations themselves are
// performed by the operation handler via ResolveAction + Node methods,
// pushing an Undo record per mutation; Apply here only finalizes bookkeeping
// once all of a transaction's edits have been applied without error.
func (t *Tx) Apply() error {
	if t.PreApplyResult != PhaseOK {
		return fmt.Errorf("txn: apply called before successful pre-apply")
	}
	t.ApplyResult = PhaseOK
	return nil
}

// Rollback walks the undo log in reverse, restoring the tree to its
// pre-transaction state. Used both for an explicit <discard-changes> and
// for root-check/commit failures that must back out a partial apply.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	undo := t.Undo
	t.mu.Unlock()

	var firstErr error
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i].Rollback(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.RollbackResult = PhaseOK
	if firstErr != nil {
		t.RollbackResult = PhaseFailed
	}
	t.Arena.Release()
	return firstErr
}

// Discard releases the transaction's undo log and arena without rolling
// back, used once a commit has durably succeeded and the edits are final.
func (t *Tx) Discard() {
	t.mu.Lock()
	t.Undo = nil
	t.mu.Unlock()
	t.Arena.Release()
}

// RootChecker evaluates a single must/when/unique/cardinality constraint
// against the committed tree. The schema layer (pkg/yang) supplies the
// concrete implementation; txn only drives the evaluation loop and caches
// results per transaction id.
type RootChecker interface {
	// Check evaluates one constraint, returning ok=false and a message on
	// violation. severity "error" fails the transaction; "warning" is
	// recorded in Tx.Warnings without failing it.
	Check(t *CommitTest) (ok bool, severity, message string)
}

// RootCheck walks the transaction's cached CommitTest set, re-evaluating
// any not already validated under this transaction id, and fails the
// transaction on the first error-severity violation. This is the full-tree
// post-apply validation pass: min/max-elements, unique, must, when,
// mandatory, and instance-required, run once per commit/validate rather
// than per edit.
func (t *Tx) RootCheck(checker RootChecker) error {
	if !t.RootCheckNeeded {
		return nil
	}
	for _, ct := range t.Tests {
		if ct.LastTxID == t.ID {
			continue
		}
		ok, severity, msg := checker.Check(ct)
		ct.LastTxID = t.ID
		ct.LastOK = ok
		ct.LastError = msg
		if !ok {
			if severity == "warning" {
				t.Warnings = append(t.Warnings, msg)
				continue
			}
			return fmt.Errorf("txn: root-check failed for %q: %s", ct.Expr, msg)
		}
	}

	for _, dead := range t.Dead {
		if dead.Parent != nil {
			dead.Parent.RemoveChild(dead)
		}
	}
	return nil
}
