package netconf

import (
	"fmt"

	"github.com/kasloop/netconfd/pkg/txn"
	"github.com/kasloop/netconfd/pkg/vtree"
)

// ApplyEditTree walks an <edit-config> payload decoded into editRoot and
// applies each child onto target (the live candidate tree), one
// txn.ResolveAction decision per node, pushing an Undo record per mutation
// so a validation failure or <discard-changes> can unwind cleanly. This
// replaces the teacher's config.Config-specific mergeConfigs/replaceConfigs
// with a schema-free walk usable against any YANG-shaped tree.
func ApplyEditTree(tx *txn.Tx, target, editRoot *vtree.Node) error {
	for _, child := range editRoot.Children {
		if err := applyEditNode(tx, target, child); err != nil {
			return err
		}
	}
	return nil
}

func applyEditNode(tx *txn.Tx, parent, editNode *vtree.Node) error {
	curnode := findMatch(parent, editNode)
	action := txn.ResolveAction(editNode.Edit.Op, curnode, editNode.Kind, editNode.Edit.Insert)

	switch action {
	case txn.ActionAdd:
		newNode := editNode.Clone()
		clearEditVars(newNode)
		if err := parent.AddChildCanonical(newNode); err != nil {
			return err
		}
		tx.PushUndo(&txn.Undo{Kind: txn.UndoAdd, Parent: parent, Target: newNode})
		tx.QueueAudit(newNode.Path(), vtree.EditCreate)
		return nil

	case txn.ActionSet:
		old := curnode.Value
		curnode.Value = editNode.Value
		tx.PushUndo(&txn.Undo{Kind: txn.UndoSet, Parent: parent, Target: curnode, OldValue: old})
		tx.QueueAudit(curnode.Path(), vtree.EditMerge)
		return nil

	case txn.ActionReplace:
		newNode := editNode.Clone()
		clearEditVars(newNode)
		if !parent.SwapChild(curnode, newNode) {
			return fmt.Errorf("netconf: %q is not a child of %q", curnode.Name, parent.Name)
		}
		tx.PushUndo(&txn.Undo{Kind: txn.UndoReplace, Parent: parent, Target: newNode, OldNode: curnode})
		tx.QueueAudit(newNode.Path(), vtree.EditReplace)
		return nil

	case txn.ActionDelete:
		if !parent.RemoveChild(curnode) {
			return fmt.Errorf("netconf: %q is not a child of %q", curnode.Name, parent.Name)
		}
		tx.PushUndo(&txn.Undo{Kind: txn.UndoDelete, Parent: parent, Target: curnode, OldNode: curnode})
		tx.QueueAudit(curnode.Path(), vtree.EditDelete)
		return nil

	case txn.ActionDeleteDefault:
		if curnode == nil {
			// delete of a non-existent node is a silent no-op (RFC 6241 §7.2);
			// remove of a non-existent node never reaches here (ResolveAction
			// maps that to ActionNone).
			return nil
		}
		if !parent.RemoveChild(curnode) {
			return fmt.Errorf("netconf: %q is not a child of %q", curnode.Name, parent.Name)
		}
		tx.PushUndo(&txn.Undo{Kind: txn.UndoDeleteDefault, Parent: parent, Target: curnode, OldNode: curnode})
		tx.QueueAudit(curnode.Path(), vtree.EditDelete)
		return nil

	case txn.ActionMove:
		oldIndex := indexOfChild(parent, curnode)
		parent.RemoveChild(curnode)
		curnode.Edit.Insert = editNode.Edit.Insert
		curnode.Edit.AnchorKey = editNode.Edit.AnchorKey
		if err := parent.AddChildCanonical(curnode); err != nil {
			return err
		}
		tx.PushUndo(&txn.Undo{Kind: txn.UndoMove, Parent: parent, Target: curnode, OldIndex: oldIndex})
		return nil

	case txn.ActionNone:
		if curnode != nil {
			for _, c := range editNode.Children {
				if err := applyEditNode(tx, curnode, c); err != nil {
					return err
				}
			}
			return nil
		}
		if editNode.Edit.Op == vtree.EditCreate {
			return fmt.Errorf("netconf: data-exists: %s", editNode.Name)
		}
		return nil

	default:
		return nil
	}
}

// findMatch locates the child of parent with the same identity as editNode:
// name and namespace, plus key predicate for list entries and value for
// leaf-list entries, matching the original engine's agt_val.c curnode
// lookup.
func findMatch(parent, editNode *vtree.Node) *vtree.Node {
	for _, c := range parent.Children {
		if c.Name != editNode.Name || c.Namespace != editNode.Namespace {
			continue
		}
		switch editNode.Kind {
		case vtree.List:
			if c.KeyPredicate() == editNode.KeyPredicate() {
				return c
			}
		case vtree.LeafList:
			if c.Value == editNode.Value {
				return c
			}
		default:
			return c
		}
	}
	return nil
}

func indexOfChild(parent, child *vtree.Node) int {
	for i, c := range parent.Children {
		if c == child {
			return i
		}
	}
	return -1
}

// clearEditVars strips edit-only annotations from a freshly added subtree
// before it joins the committed tree, where EditVars no longer apply.
func clearEditVars(n *vtree.Node) {
	n.Edit = vtree.EditVars{}
	for _, c := range n.Children {
		clearEditVars(c)
	}
}
