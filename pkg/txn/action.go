package txn

import "github.com/kasloop/netconfd/pkg/vtree"

// Action is the effective edit action resolved from an edit-config node's
// (edit-op, curnode-presence, kind, insert-op) tuple.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionSet
	ActionMove
	ActionReplace
	ActionDelete
	ActionDeleteDefault
)

// ResolveAction implements the edit-action resolution table: given the
// effective edit operation on an incoming node, whether a node of the same
// identity already exists in the target tree (curnode), the node's kind,
// and whether an insert directive is present, decide which single action
// to perform. Mirrors the per-(op, curnode, kind, insert) case analysis the
// original engine's agt_val.c applies before invoking the corresponding
// VAL_EDITOP_* handler.
func ResolveAction(op vtree.EditOp, curnode *vtree.Node, kind vtree.Kind, insert vtree.InsertOp) Action {
	switch op {
	case vtree.EditDelete:
		if curnode == nil {
			return ActionDeleteDefault
		}
		return ActionDelete

	case vtree.EditRemove:
		if curnode == nil {
			return ActionNone
		}
		if curnode.IsDefault {
			return ActionDeleteDefault
		}
		return ActionDelete

	case vtree.EditCreate:
		if curnode != nil && !curnode.IsDefault {
			return ActionNone // caller reports data-exists
		}
		return ActionAdd

	case vtree.EditReplace:
		if curnode == nil {
			return ActionAdd
		}
		return ActionReplace

	case vtree.EditMerge:
		if curnode == nil {
			return ActionAdd
		}
		if kind == vtree.Leaf || kind == vtree.LeafList {
			return ActionSet
		}
		if insert != vtree.InsertNone && (kind == vtree.List || kind == vtree.LeafList) {
			return ActionMove
		}
		return ActionNone // merge into an existing container/list entry: recurse, no action at this node

	default:
		return ActionNone
	}
}
