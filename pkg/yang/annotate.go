package yang

import "github.com/kasloop/netconfd/pkg/vtree"

// Annotate tags data (a tree produced by vtree.DecodeXML, which has no
// schema awareness and so leaves every non-leaf node as Kind Container) with
// the Kind, Keys and DataClass the schema declares, recursing into matching
// children. Nodes absent from the schema are left untouched so anyxml-like
// extension data still round-trips.
//
// This must run before pkg/netconf's edit-apply walk, since ResolveAction
// and findMatch both depend on knowing which containers are really lists
// and what their key leaves are.
func (v *Validator) Annotate(data *vtree.Node) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, schemaRoot := range v.roots {
		annotateChildren(schemaRoot, data)
	}
}

func annotateChildren(schema *Node, data *vtree.Node) {
	if schema == nil || data == nil {
		return
	}
	for _, child := range data.Children {
		childSchema, ok := schema.Children[child.Name]
		if !ok {
			continue
		}
		applyKind(childSchema, child)
		annotateChildren(childSchema, child)
	}
}

func applyKind(schema *Node, n *vtree.Node) {
	switch schema.Kind {
	case KindList:
		n.Kind = vtree.List
		n.Keys = append([]string(nil), schema.Keys...)
	case KindLeafList:
		n.Kind = vtree.LeafList
	case KindLeaf:
		n.Kind = vtree.Leaf
	case KindAnyxml:
		n.Kind = vtree.Anyxml
	default:
		n.Kind = vtree.Container
	}
	if !schema.IsConfig {
		n.Class = vtree.State
	}
	if schema.Default != "" && n.Value == schema.Default {
		n.IsDefault = true
	}
}
