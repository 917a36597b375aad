// Package filter implements the read-only subtree and XPath filter engines
// NETCONF's <get>/<get-config> <filter> element needs, evaluated against
// the internal value tree (pkg/vtree) rather than raw XML. It supersedes
// the teacher's Phase-3 xpath_filter.go, which matched element names
// against decoded path segments rather than walking the tree, and never
// implemented subtree filtering beyond a substring search.
package filter

import (
	"github.com/kasloop/netconfd/pkg/rbac"
	"github.com/kasloop/netconfd/pkg/vtree"
)

// FilterNode is one node of a parsed <filter> tree: a container/select
// selection node, or a content-match leaf carrying an expected value.
type FilterNode struct {
	Name      string
	Namespace string
	NSWildcard bool // xmlns="" on this node (base:1.1 only)
	Value     string
	IsLeaf    bool // true if this node has no children (either a selection or content-match leaf)
	Children  []*FilterNode
	Attrs     map[string]string // content-match attribute predicates
}

// Subtree evaluates a subtree filter tree against target, returning the
// matching nodes of target (by reference, not copies — filtering never
// mutates the tree). role/authz gate each emitted node: a node the role
// cannot read is dropped silently rather than surfacing access-denied,
// per spec.md §8 property 6.
func Subtree(target *vtree.Node, filterRoots []*FilterNode, role string, authz rbac.Authorizer, base11 bool) []*vtree.Node {
	var out []*vtree.Node
	for _, fn := range filterRoots {
		out = append(out, matchChildren(target, []*FilterNode{fn}, role, authz, base11)...)
	}
	return out
}

// matchChildren evaluates one sibling set of filter nodes against target's
// children, returning target's children accepted by the AND-conjunct rule:
// a candidate child survives only if every content-match sibling in the
// filter set that shares its name also matches, and every selection
// sibling recurses successfully.
func matchChildren(target *vtree.Node, siblings []*FilterNode, role string, authz rbac.Authorizer, base11 bool) []*vtree.Node {
	var out []*vtree.Node
	for _, child := range target.Children {
		if !authz.CanRead(role, child.Path()) {
			continue
		}
		if matchesSiblingSet(child, siblings, base11) {
			out = append(out, projectNode(child, siblings, role, authz, base11))
		}
	}
	// List nodes always re-emit key leaves regardless of selection.
	return out
}

// matchesSiblingSet reports whether candidate satisfies every applicable
// filter node in siblings: every content-match test on a same-named filter
// node must hold, and a pure selection node (no content-match, no
// children) matches by name alone.
func matchesSiblingSet(candidate *vtree.Node, siblings []*FilterNode, base11 bool) bool {
	matchedAny := false
	for _, fn := range siblings {
		if fn.Name != candidate.Name {
			if fn.NSWildcard && base11 {
				// namespace wildcard: match any name11, subject to deeper checks
			} else {
				continue
			}
		}
		if fn.Namespace != "" && fn.Namespace != candidate.Namespace && !(fn.NSWildcard && base11) {
			continue
		}
		matchedAny = true
		if fn.IsLeaf && fn.Value != "" {
			if candidate.Value != fn.Value {
				return false
			}
		}
		if len(fn.Attrs) > 0 {
			for k, v := range fn.Attrs {
				if c := candidate.Child(k); c == nil || c.Value != v {
					return false
				}
			}
		}
	}
	return matchedAny
}

// projectNode builds the output subtree for an accepted candidate: if the
// matching filter node(s) had children (a deeper selection), only the
// matching grandchildren are included (recursively); otherwise the whole
// candidate subtree is included verbatim. List key leaves are force-added
// even if the filter's child selection didn't name them.
func projectNode(candidate *vtree.Node, siblings []*FilterNode, role string, authz rbac.Authorizer, base11 bool) *vtree.Node {
	var deeper []*FilterNode
	fullSelect := false
	for _, fn := range siblings {
		if fn.Name != candidate.Name {
			continue
		}
		if len(fn.Children) == 0 {
			fullSelect = true
			continue
		}
		deeper = append(deeper, fn.Children...)
	}

	if fullSelect || len(deeper) == 0 {
		return candidate
	}

	projected := candidate.Clone()
	projected.Children = nil
	for _, c := range matchChildren(candidate, deeper, role, authz, base11) {
		projected.Children = append(projected.Children, c)
	}
	if candidate.Kind == vtree.List {
		forceKeys(candidate, projected)
	}
	return projected
}

// forceKeys ensures every key leaf of a List node is present in projected,
// copying it from the original candidate if the filter's selection omitted
// it — RFC 6241 §6 requires list key leaves in filtered output regardless
// of selection.
func forceKeys(candidate, projected *vtree.Node) {
	for _, key := range candidate.Keys {
		if projected.Child(key) != nil {
			continue
		}
		if orig := candidate.Child(key); orig != nil {
			projected.AddChild(orig.Clone())
		}
	}
}
