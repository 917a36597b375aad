package yang

import (
	"fmt"

	"github.com/kasloop/netconfd/pkg/txn"
	"github.com/kasloop/netconfd/pkg/vtree"
	"github.com/kasloop/netconfd/pkg/xpath"
)

// ConstraintChecker implements pkg/txn.RootChecker by compiling and
// evaluating a commit-test's recorded "must"/"when" expression (a
// pkg/xpath boolean-existence test, per the XPath-subset evaluator this
// engine supports) against the node it was registered against.
//
// Grounded on original_source/agt_val.c's val_instance_check / root-check
// pass: a failed "must" is an operation-failed error, a failed "when"
// silently removes the node instead (handled by the caller queuing the
// node onto Tx.Dead rather than by this type).
type ConstraintChecker struct {
	compiled map[string]*xpath.Expr
}

// NewConstraintChecker returns a checker with an empty compile cache.
func NewConstraintChecker() *ConstraintChecker {
	return &ConstraintChecker{compiled: map[string]*xpath.Expr{}}
}

// Check implements pkg/txn.RootChecker, evaluating t.Expr against t.Node's
// subtree; a non-empty match set means the constraint holds. Malformed
// expressions fail closed. Severity is always "error" here: "when"-false
// nodes are removed via Tx.Dead rather than failing the transaction, so by
// the time a constraint reaches Check it is a "must".
func (c *ConstraintChecker) Check(t *txn.CommitTest) (ok bool, severity, message string) {
	if t.Expr == "" {
		return true, "error", ""
	}
	compiled, ok2 := c.compiled[t.Expr]
	if !ok2 {
		var err error
		compiled, err = xpath.Compile(t.Expr)
		if err != nil {
			return false, "error", fmt.Sprintf("invalid constraint expression %q: %v", t.Expr, err)
		}
		c.compiled[t.Expr] = compiled
	}
	matches := compiled.Eval(t.Node)
	if len(matches) == 0 {
		return false, "error", fmt.Sprintf("constraint not satisfied: %s", t.Expr)
	}
	return true, "error", ""
}

// Violation describes one structural root-check failure: a min/max-elements
// or mandatory-leaf violation discovered while walking the whole datastore
// after an edit was applied.
type Violation struct {
	Path    string
	Message string
}

// CheckDatastore walks root against the schema tree and reports every
// min-elements, max-elements and mandatory-leaf violation it finds. It does
// not check "unique" or "instance-required"; "must"
// and "when" are evaluated per-node via ConstraintChecker instead, since
// they are registered as individual commit-tests at edit time.
func (v *Validator) CheckDatastore(root *vtree.Node) []Violation {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var violations []Violation
	for _, schemaRoot := range v.roots {
		checkNode(schemaRoot, root, &violations)
	}
	return violations
}

func checkNode(schema *Node, data *vtree.Node, out *[]Violation) {
	if schema == nil || data == nil {
		return
	}
	counts := map[string]int{}
	for _, child := range data.Children {
		counts[child.Name]++
	}

	for _, name := range schema.ChildNames() {
		childSchema := schema.Children[name]
		n := counts[name]

		if childSchema.Kind == KindList || childSchema.Kind == KindLeafList {
			if childSchema.MinElements > 0 && uint64(n) < childSchema.MinElements {
				*out = append(*out, Violation{
					Path:    data.Path() + "/" + name,
					Message: fmt.Sprintf("%s requires at least %d instance(s), found %d", name, childSchema.MinElements, n),
				})
			}
			if childSchema.MaxElements > 0 && uint64(n) > childSchema.MaxElements {
				*out = append(*out, Violation{
					Path:    data.Path() + "/" + name,
					Message: fmt.Sprintf("%s allows at most %d instance(s), found %d", name, childSchema.MaxElements, n),
				})
			}
		}

		if childSchema.Mandatory && n == 0 {
			*out = append(*out, Violation{
				Path:    data.Path() + "/" + name,
				Message: fmt.Sprintf("mandatory node %s is missing", name),
			})
		}

		for _, instance := range data.Children {
			if instance.Name == name {
				checkNode(childSchema, instance, out)
			}
		}
	}
}
