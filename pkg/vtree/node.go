// Package vtree implements the schema-free value tree that backs every
// NETCONF datastore: running, candidate, and startup configuration are each
// just a *Node rooted tree. It generalizes the teacher's fixed
// Config/Interface/Unit/Family struct tree (pkg/config/types.go) into a
// node-kind enum so the same code walks arbitrary YANG-shaped data instead
// of one hardcoded router schema.
package vtree

import "fmt"

// Kind identifies the YANG statement a Node represents.
type Kind int

const (
	Container Kind = iota
	List
	Leaf
	LeafList
	Anyxml
)

func (k Kind) String() string {
	switch k {
	case Container:
		return "container"
	case List:
		return "list"
	case Leaf:
		return "leaf"
	case LeafList:
		return "leaf-list"
	case Anyxml:
		return "anyxml"
	default:
		return "unknown"
	}
}

// DataClass distinguishes writable configuration from read-only state,
// mirroring the config/state split every NETCONF datastore must preserve
// when filtering for get vs. get-config.
type DataClass int

const (
	Config DataClass = iota
	State
)

// EditOp is the effective edit operation carried on a node produced by
// decoding an <edit-config> payload. It is only meaningful during edit
// processing; committed tree nodes leave it at EditNone.
type EditOp int

const (
	EditNone EditOp = iota
	EditMerge
	EditReplace
	EditCreate
	EditDelete
	EditRemove
)

func (op EditOp) String() string {
	switch op {
	case EditMerge:
		return "merge"
	case EditReplace:
		return "replace"
	case EditCreate:
		return "create"
	case EditDelete:
		return "delete"
	case EditRemove:
		return "remove"
	default:
		return "none"
	}
}

// ParseEditOp maps the wire value of an operation="..." attribute to an
// EditOp. An empty value maps to EditMerge per RFC 6241 §7.2; an unknown
// value returns EditNone and an error.
func ParseEditOp(s string) (EditOp, error) {
	switch s {
	case "", "merge":
		return EditMerge, nil
	case "replace":
		return EditReplace, nil
	case "create":
		return EditCreate, nil
	case "delete":
		return EditDelete, nil
	case "remove":
		return EditRemove, nil
	default:
		return EditNone, fmt.Errorf("vtree: unknown edit operation %q", s)
	}
}

// InsertOp is the insert="..." attribute on ordered-by-user list/leaf-list
// entries, with optional key/value sibling anchors.
type InsertOp int

const (
	InsertNone InsertOp = iota
	InsertFirst
	InsertLast
	InsertBefore
	InsertAfter
)

// EditVars holds the edit-only annotations decoded from an <edit-config>
// payload. It is cleared (zero value) once a node is committed to a
// datastore; only in-flight edit trees carry it.
type EditVars struct {
	Op        EditOp
	Insert    InsertOp
	AnchorKey string // key predicate or leaf-list value named by insert="before|after"
}

// Node is one statement instance in a value tree: a container, a list
// entry, a leaf, a leaf-list entry, or an anyxml blob. Containers and
// lists carry Children; leaves and leaf-lists carry Value.
type Node struct {
	Name      string
	Namespace string
	Kind      Kind
	Class     DataClass
	IsDefault bool

	// Value holds the leaf/leaf-list/anyxml scalar content. Unused for
	// Container and List nodes.
	Value string

	// Keys names this List node's key leaves, in schema order. Unused
	// for other kinds.
	Keys []string

	Parent   *Node
	Children []*Node

	Edit EditVars
}

// NewContainer constructs an empty container/list node.
func NewContainer(name, ns string, kind Kind) *Node {
	return &Node{Name: name, Namespace: ns, Kind: kind}
}

// NewLeaf constructs a leaf (or leaf-list entry) node with a scalar value.
func NewLeaf(name, ns, value string, kind Kind) *Node {
	return &Node{Name: name, Namespace: ns, Kind: kind, Value: value}
}

// AddChild appends child to n's children, setting child's parent link.
// For List/Container nodes whose schema defines ordering, callers should
// prefer AddChildCanonical; AddChild is the raw, order-preserving append
// used by decoders that already produce schema order.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// AddChildCanonical inserts child among siblings of the same Name,
// honoring an ordered-by-user insert directive (first/last/before/after)
// and otherwise appending after the last same-name sibling, preserving
// schema-declared grouping of like-named nodes.
func (n *Node) AddChildCanonical(child *Node) error {
	child.Parent = n

	switch child.Edit.Insert {
	case InsertFirst:
		idx := n.firstIndexOfName(child.Name)
		if idx < 0 {
			n.Children = append(n.Children, child)
			return nil
		}
		n.insertAt(idx, child)
		return nil
	case InsertBefore, InsertAfter:
		anchor := n.findSiblingByAnchor(child.Name, child.Edit.AnchorKey)
		if anchor < 0 {
			return fmt.Errorf("vtree: insert anchor %q not found among %q siblings", child.Edit.AnchorKey, child.Name)
		}
		if child.Edit.Insert == InsertAfter {
			anchor++
		}
		n.insertAt(anchor, child)
		return nil
	default: // InsertLast or InsertNone: append after last same-name sibling
		idx := n.lastIndexOfName(child.Name)
		if idx < 0 {
			n.Children = append(n.Children, child)
			return nil
		}
		n.insertAt(idx+1, child)
		return nil
	}
}

func (n *Node) insertAt(idx int, child *Node) {
	n.Children = append(n.Children, nil)
	copy(n.Children[idx+1:], n.Children[idx:])
	n.Children[idx] = child
}

func (n *Node) firstIndexOfName(name string) int {
	for i, c := range n.Children {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (n *Node) lastIndexOfName(name string) int {
	idx := -1
	for i, c := range n.Children {
		if c.Name == name {
			idx = i
		}
	}
	return idx
}

// findSiblingByAnchor locates the List/LeafList sibling matching either a
// key predicate (for lists, "key1=val1,key2=val2") or a scalar value (for
// leaf-lists).
func (n *Node) findSiblingByAnchor(name, anchor string) int {
	for i, c := range n.Children {
		if c.Name != name {
			continue
		}
		if c.Kind == LeafList {
			if c.Value == anchor {
				return i
			}
			continue
		}
		if c.KeyPredicate() == anchor {
			return i
		}
	}
	return -1
}

// KeyPredicate renders a List node's key values as "k1=v1,k2=v2", used to
// match insert="before|after" anchors and to identify list entries in
// Path() and in edit matching.
func (n *Node) KeyPredicate() string {
	if n.Kind != List || len(n.Keys) == 0 {
		return ""
	}
	out := ""
	for i, k := range n.Keys {
		if i > 0 {
			out += ","
		}
		kv := n.Child(k)
		val := ""
		if kv != nil {
			val = kv.Value
		}
		out += k + "=" + val
	}
	return out
}

// Child returns the first direct child named name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// RemoveChild deletes child from n's children by identity, clearing its
// parent link. Returns false if child is not a direct child of n.
func (n *Node) RemoveChild(child *Node) bool {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			child.Parent = nil
			return true
		}
	}
	return false
}

// SwapChild replaces old with replacement in n's children, preserving
// position. Used by edit-action "replace" on complex nodes once identity
// must be preserved at the parent but the subtree itself is swapped in
// wholesale (leaf/leaf-list replace instead mutates Value in place).
func (n *Node) SwapChild(old, replacement *Node) bool {
	for i, c := range n.Children {
		if c == old {
			replacement.Parent = n
			n.Children[i] = replacement
			old.Parent = nil
			return true
		}
	}
	return false
}

// Clone deep-copies n and its subtree. Parent is left nil on the returned
// root; descendants have correct parent links within the clone.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{
		Name:      n.Name,
		Namespace: n.Namespace,
		Kind:      n.Kind,
		Class:     n.Class,
		IsDefault: n.IsDefault,
		Value:     n.Value,
		Edit:      n.Edit,
	}
	if n.Keys != nil {
		clone.Keys = append([]string(nil), n.Keys...)
	}
	for _, c := range n.Children {
		clone.AddChild(c.Clone())
	}
	return clone
}

// Equal reports whether n and other are structurally identical: same
// name/namespace/kind/value and recursively equal children in the same
// order. Edit-only fields (Edit, IsDefault) are ignored, since equality
// is used to detect effective no-op edits against committed state.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Name != other.Name || n.Namespace != other.Namespace || n.Kind != other.Kind {
		return false
	}
	if n.Kind == Leaf || n.Kind == LeafList || n.Kind == Anyxml {
		return n.Value == other.Value
	}
	if len(n.Children) != len(other.Children) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// Path renders n's location as a slash-separated instance identifier
// (e.g. "/interfaces/interface[name='eth0']/enabled"), used as an
// error-path and audit InstanceID.
func (n *Node) Path() string {
	if n.Parent == nil {
		return "/" + n.Name
	}
	seg := n.Name
	if n.Kind == List {
		if kp := n.KeyPredicate(); kp != "" {
			seg = fmt.Sprintf("%s[%s]", n.Name, keyPredicateToXPath(kp))
		}
	}
	return n.Parent.Path() + "/" + seg
}

func keyPredicateToXPath(kp string) string {
	// "k1=v1,k2=v2" -> "k1='v1'][k2='v2'" fragment joined by caller's brackets
	out := ""
	start := 0
	depth := 0
	for i := 0; i <= len(kp); i++ {
		if i == len(kp) || (kp[i] == ',' && depth == 0) {
			pair := kp[start:i]
			eq := -1
			for j, ch := range pair {
				if ch == '=' {
					eq = j
					break
				}
			}
			if eq >= 0 {
				if out != "" {
					out += "]["
				}
				out += pair[:eq] + "='" + pair[eq+1:] + "'"
			}
			start = i + 1
		}
	}
	return out
}

// Walk calls fn for n and every descendant, depth-first pre-order. fn may
// return false to stop descending into that node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
