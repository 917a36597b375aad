package txn

import "github.com/kasloop/netconfd/pkg/vtree"

// UndoKind tags the variant of an Undo record, per spec.md §9's redesign
// note: rather than the original engine's single struct with a raw
// pointer graph reused across action kinds, each variant carries only the
// fields its rollback needs.
type UndoKind int

const (
	UndoAdd UndoKind = iota
	UndoSet
	UndoMove
	UndoReplace
	UndoDelete
	UndoDeleteDefault
)

// Undo is one reversible edit applied during a transaction. Parent/Index
// locate the edit site; OldNode/OldValue/OldIndex hold what must be
// restored on rollback. OldNode subtrees removed from the live tree are
// kept alive by the transaction's Arena so a rollback can relink them.
type Undo struct {
	Kind   UndoKind
	Parent *vtree.Node
	Target *vtree.Node // the node that was added/set/moved/replaced/deleted

	OldValue string      // UndoSet: previous leaf value
	OldIndex int          // UndoMove: previous position among siblings
	OldNode  *vtree.Node // UndoReplace/UndoDelete/UndoDeleteDefault: detached original
}

// Arena owns detached subtrees produced by edits within one transaction,
// keeping them reachable (for rollback) without re-threading them into the
// live tree. It replaces the original engine's ad hoc free_curnode pointer
// graph with a single owned slice whose lifetime is the transaction's.
type Arena struct {
	nodes []*vtree.Node
}

// Keep retains n in the arena and returns it, so call sites can write
// `arena.Keep(detached)` inline when building an Undo record.
func (a *Arena) Keep(n *vtree.Node) *vtree.Node {
	if n != nil {
		a.nodes = append(a.nodes, n)
	}
	return n
}

// Release drops the arena's references, allowing detached subtrees to be
// garbage collected once a transaction commits and its undo log is
// discarded.
func (a *Arena) Release() {
	a.nodes = nil
}

// Rollback undoes u, restoring the tree to its state before the edit it
// records was applied. ResolveAction's callers apply the forward edit
// directly against the live tree and push the matching Undo record in the
// same step; Undo itself only ever runs in reverse.
func (u *Undo) Rollback() error {
	switch u.Kind {
	case UndoAdd:
		if !u.Parent.RemoveChild(u.Target) {
			return errNotChild(u.Parent, u.Target)
		}
		return nil
	case UndoSet:
		u.Target.Value = u.OldValue
		return nil
	case UndoMove:
		if !u.Parent.RemoveChild(u.Target) {
			return errNotChild(u.Parent, u.Target)
		}
		idx := u.OldIndex
		children := u.Parent.Children
		if idx < 0 || idx > len(children) {
			idx = len(children)
		}
		children = append(children, nil)
		copy(children[idx+1:], children[idx:])
		children[idx] = u.Target
		u.Parent.Children = children
		u.Target.Parent = u.Parent
		return nil
	case UndoReplace:
		if !u.Parent.SwapChild(u.Target, u.OldNode) {
			return errNotChild(u.Parent, u.Target)
		}
		return nil
	case UndoDelete, UndoDeleteDefault:
		return u.Parent.AddChildCanonical(u.OldNode)
	default:
		return errUnknownUndoKind(u.Kind)
	}
}

func errNotChild(parent, child *vtree.Node) error {
	name := "<nil>"
	if child != nil {
		name = child.Name
	}
	return &undoError{msg: "node " + name + " is not a child of " + parent.Name}
}

func errUnknownUndoKind(k UndoKind) error {
	return &undoError{msg: "unknown undo kind"}
}

type undoError struct{ msg string }

func (e *undoError) Error() string { return "txn: " + e.msg }
