package netconf

import (
	"bytes"

	"github.com/kasloop/netconfd/pkg/vtree"
)

// datastoreRootName is the synthetic top-level element every stored
// ConfigText is rooted at, matching the <config> wrapper RFC 6241 uses
// around datastore content.
const datastoreRootName = "config"

// NodeToText serializes root for datastore storage (running/candidate/
// startup ConfigText). This replaces the teacher's router-struct-specific
// ConfigToText now that a datastore is just a *vtree.Node, not a fixed
// Config/Interface/BGP/OSPF struct tree.
func NodeToText(root *vtree.Node) (string, error) {
	if root == nil || len(root.Children) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	for _, child := range root.Children {
		if err := vtree.EncodeXML(&buf, child, false, false); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// TextToNode parses stored ConfigText back into a tree rooted at a
// synthetic <config> container, so callers can merge into or filter it
// uniformly regardless of whether the datastore was empty.
func TextToNode(text string) (*vtree.Node, error) {
	root := vtree.NewContainer(datastoreRootName, "", vtree.Container)
	if text == "" {
		return root, nil
	}
	wrapped := "<" + datastoreRootName + ">" + text + "</" + datastoreRootName + ">"
	decoded, err := vtree.DecodeXML([]byte(wrapped))
	if err != nil {
		return nil, err
	}
	if decoded != nil {
		root.Children = decoded.Children
		for _, c := range root.Children {
			c.Parent = root
		}
	}
	return root, nil
}
