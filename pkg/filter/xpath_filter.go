package filter

import (
	"github.com/kasloop/netconfd/pkg/rbac"
	"github.com/kasloop/netconfd/pkg/vtree"
	"github.com/kasloop/netconfd/pkg/xpath"
)

// XPath evaluates a compiled XPath select expression against root,
// returning the minimal set of subtrees that together contain every
// matched node: each matched node's full subtree is included, and every
// ancestor between it and root is included as an empty shell (name only,
// no unrelated siblings) so the result renders as valid, minimally-sized
// XML rather than the bare matched fragments RFC 6241 forbids floating
// without context.
func XPath(root *vtree.Node, expr *xpath.Expr, role string, authz rbac.Authorizer) *vtree.Node {
	matches := expr.Eval(root)
	if len(matches) == 0 {
		return nil
	}

	shell := vtree.NewContainer(root.Name, root.Namespace, root.Kind)
	shellByOrig := map[*vtree.Node]*vtree.Node{root: shell}

	for _, m := range matches {
		if !authz.CanRead(role, m.Path()) {
			continue
		}
		ensureShellPath(m, shellByOrig, root)
	}
	return shell
}

// ensureShellPath walks from m up to root, creating (or reusing) shell
// nodes for each ancestor, then attaches a full clone of m under its
// immediate shell parent. List ancestors get their key leaves force-added
// to the shell even though the shell itself carries no other content.
func ensureShellPath(m *vtree.Node, shellByOrig map[*vtree.Node]*vtree.Node, root *vtree.Node) {
	if _, already := shellByOrig[m]; already {
		return
	}

	var chain []*vtree.Node
	for n := m; n != root; n = n.Parent {
		if n == nil {
			return // m was not under root
		}
		chain = append(chain, n)
	}
	// chain is m ... (root's direct child), reverse to walk top-down
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	parentShell := shellByOrig[root]
	for idx, orig := range chain {
		if existing, ok := shellByOrig[orig]; ok {
			parentShell = existing
			continue
		}
		isLast := idx == len(chain)-1
		var shellNode *vtree.Node
		if isLast {
			shellNode = orig.Clone()
		} else {
			shellNode = vtree.NewContainer(orig.Name, orig.Namespace, orig.Kind)
			shellNode.Keys = orig.Keys
			if orig.Kind == vtree.List {
				forceKeys(orig, shellNode)
			}
		}
		parentShell.AddChildCanonical(shellNode)
		shellByOrig[orig] = shellNode
		parentShell = shellNode
	}
}
