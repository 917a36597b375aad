package txn

import (
	"path/filepath"
	"testing"

	"github.com/kasloop/netconfd/pkg/vtree"
)

func TestAllocatorSkipsZeroAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "txid")

	a, err := NewAllocator(path)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	first, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if first == 0 {
		t.Fatalf("expected non-zero id, got 0")
	}

	second, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if second != first+1 {
		t.Errorf("expected monotonic increment, got %d then %d", first, second)
	}

	// Recovery: a fresh allocator over the same file must continue past
	// the persisted high-water mark, not restart at 1.
	b, err := NewAllocator(path)
	if err != nil {
		t.Fatalf("NewAllocator (recover): %v", err)
	}
	third, err := b.Allocate()
	if err != nil {
		t.Fatalf("Allocate (recover): %v", err)
	}
	if third != second+1 {
		t.Errorf("expected recovered allocator to continue from %d, got %d", second, third)
	}
}

func TestManagerRejectsConcurrentTransaction(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "txid"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	tx1, err := m.Begin("candidate", EditPartial, false, false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := m.Begin("candidate", EditPartial, false, false); err == nil {
		t.Fatalf("expected second Begin on busy datastore to fail")
	} else if _, ok := err.(ErrDatastoreBusy); !ok {
		t.Errorf("expected ErrDatastoreBusy, got %T: %v", err, err)
	}

	m.End(tx1)

	if _, err := m.Begin("candidate", EditPartial, false, false); err != nil {
		t.Errorf("expected Begin to succeed after End, got %v", err)
	}
}

func TestResolveActionTable(t *testing.T) {
	existing := vtree.NewLeaf("hostname", "", "old", vtree.Leaf)

	cases := []struct {
		name     string
		op       vtree.EditOp
		curnode  *vtree.Node
		kind     vtree.Kind
		insert   vtree.InsertOp
		expected Action
	}{
		{"merge into new node adds", vtree.EditMerge, nil, vtree.Leaf, vtree.InsertNone, ActionAdd},
		{"merge into existing leaf sets", vtree.EditMerge, existing, vtree.Leaf, vtree.InsertNone, ActionSet},
		{"merge into existing container recurses", vtree.EditMerge, existing, vtree.Container, vtree.InsertNone, ActionNone},
		{"create against existing real node is a no-op (data-exists)", vtree.EditCreate, existing, vtree.Leaf, vtree.InsertNone, ActionNone},
		{"create against nothing adds", vtree.EditCreate, nil, vtree.Leaf, vtree.InsertNone, ActionAdd},
		{"replace against nothing adds", vtree.EditReplace, nil, vtree.Leaf, vtree.InsertNone, ActionAdd},
		{"replace against existing replaces", vtree.EditReplace, existing, vtree.Container, vtree.InsertNone, ActionReplace},
		{"delete against existing deletes", vtree.EditDelete, existing, vtree.Leaf, vtree.InsertNone, ActionDelete},
		{"delete against nothing reports default", vtree.EditDelete, nil, vtree.Leaf, vtree.InsertNone, ActionDeleteDefault},
		{"remove against nothing is a no-op", vtree.EditRemove, nil, vtree.Leaf, vtree.InsertNone, ActionNone},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ResolveAction(c.op, c.curnode, c.kind, c.insert)
			if got != c.expected {
				t.Errorf("ResolveAction(%v, curnode=%v, %v, %v) = %v, want %v",
					c.op, c.curnode != nil, c.kind, c.insert, got, c.expected)
			}
		})
	}
}

func TestTxRollbackRestoresUndoLog(t *testing.T) {
	root := vtree.NewContainer("config", "", vtree.Container)
	hostname := vtree.NewLeaf("hostname", "", "original", vtree.Leaf)
	root.AddChild(hostname)

	tx := New(1, "candidate", EditPartial, false, false)

	hostname.Value = "changed"
	tx.PushUndo(&Undo{Kind: UndoSet, Parent: root, Target: hostname, OldValue: "original"})

	added := vtree.NewLeaf("description", "", "new interface", vtree.Leaf)
	root.AddChild(added)
	tx.PushUndo(&Undo{Kind: UndoAdd, Parent: root, Target: added})

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if hostname.Value != "original" {
		t.Errorf("expected hostname restored to 'original', got %q", hostname.Value)
	}
	if root.Child("description") != nil {
		t.Errorf("expected added node to be removed on rollback")
	}
}

type allOKChecker struct{}

func (allOKChecker) Check(*CommitTest) (bool, string, string) { return true, "", "" }

type failingChecker struct{ msg string }

func (f failingChecker) Check(*CommitTest) (bool, string, string) { return false, "error", f.msg }

func TestRootCheckFailsTransactionOnErrorSeverity(t *testing.T) {
	tx := New(1, "candidate", EditFull, true, false)
	tx.Tests = []*CommitTest{{Expr: "must(foo)"}}

	if err := tx.RootCheck(failingChecker{msg: "must expression false"}); err == nil {
		t.Fatalf("expected RootCheck to fail")
	}
}

func TestRootCheckWarningDoesNotFailTransaction(t *testing.T) {
	tx := New(1, "candidate", EditFull, true, false)
	tx.Tests = []*CommitTest{{Expr: "when(bar)"}}

	checker := struct{ RootChecker }{}
	_ = checker
	warnChecker := warnOnlyChecker{msg: "when expression false"}

	if err := tx.RootCheck(warnChecker); err != nil {
		t.Fatalf("expected warning-severity failure not to fail transaction, got %v", err)
	}
	if len(tx.Warnings) != 1 {
		t.Errorf("expected one warning recorded, got %d", len(tx.Warnings))
	}
}

type warnOnlyChecker struct{ msg string }

func (w warnOnlyChecker) Check(*CommitTest) (bool, string, string) { return false, "warning", w.msg }

var _ RootChecker = allOKChecker{}
