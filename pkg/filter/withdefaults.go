package filter

import "github.com/kasloop/netconfd/pkg/vtree"

// WithDefaultsMode is the ietf-netconf-with-defaults capability mode
// requested on a <get>/<get-config>, surfaced by original_source/agt_val.h's
// NCX_WITHDEF_* constants but dropped from the distilled spec.
type WithDefaultsMode int

const (
	WithDefaultsExplicit WithDefaultsMode = iota
	WithDefaultsTrim
	WithDefaultsReportAll
	WithDefaultsReportAllTagged
)

// ParseWithDefaultsMode maps the wire value of a <with-defaults> element.
func ParseWithDefaultsMode(s string) WithDefaultsMode {
	switch s {
	case "trim":
		return WithDefaultsTrim
	case "report-all":
		return WithDefaultsReportAll
	case "report-all-tagged":
		return WithDefaultsReportAllTagged
	default:
		return WithDefaultsExplicit
	}
}

// ApplyWithDefaults projects tree according to mode; the input is never
// mutated. Only "trim" returns a new tree; every other mode returns tree
// itself. "explicit" (the default) passes the tree
// through unchanged, since only explicitly-set values were ever added to
// it. "trim" removes default-valued leaves. "report-all" is a no-op here
// too, since the tree already carries every default-filled leaf the schema
// layer populated; "report-all-tagged" additionally needs a wire-level
// default="true" attribute, left to the XML encoder to add by inspecting
// IsDefault.
func ApplyWithDefaults(tree *vtree.Node, mode WithDefaultsMode) *vtree.Node {
	if tree == nil {
		return nil
	}
	if mode != WithDefaultsTrim {
		return tree
	}
	trimmed := tree.Clone()
	trimDefaults(trimmed)
	return trimmed
}

func trimDefaults(n *vtree.Node) {
	kept := n.Children[:0]
	for _, c := range n.Children {
		if c.IsDefault && (c.Kind == vtree.Leaf || c.Kind == vtree.LeafList) {
			continue
		}
		trimDefaults(c)
		kept = append(kept, c)
	}
	n.Children = kept
}
