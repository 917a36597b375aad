package vtree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Size and depth limits enforced while decoding an untrusted config/filter
// payload, carried over from the teacher's xml_convert.go guardrails
// (MaxXMLDepth/MaxXMLElements/MaxXMLSize) since a schema-free tree decoder
// has no struct-based upper bound on nesting the way tagged structs do.
const (
	MaxDepth    = 50
	MaxElements = 10000
	MaxSize     = 10 * 1024 * 1024
)

// DecodeXML parses an XML payload (the contents of <config>, <filter>, or a
// startup/backup file) into a tree of *Node rooted at a synthetic container
// matching the outermost element. Unlike the teacher's XMLToConfig, which
// decodes into a fixed Go struct shape, this walks the token stream
// generically so it carries whatever elements the schema defines rather
// than a hardcoded allowlist.
func DecodeXML(data []byte) (*Node, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("vtree: payload exceeds %d bytes", MaxSize)
	}
	if err := validateSecurity(data); err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.Entity = nil

	var root *Node
	var stack []*Node
	depth := 0
	elements := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("vtree: malformed XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			elements++
			if depth > MaxDepth {
				return nil, fmt.Errorf("vtree: exceeds maximum depth %d", MaxDepth)
			}
			if elements > MaxElements {
				return nil, fmt.Errorf("vtree: exceeds maximum element count %d", MaxElements)
			}
			n := &Node{Name: t.Name.Local, Namespace: t.Name.Space, Kind: Container}
			if op := attrValue(t.Attr, "operation"); op != "" {
				editOp, err := ParseEditOp(op)
				if err != nil {
					return nil, fmt.Errorf("vtree: element %q: %w", t.Name.Local, err)
				}
				n.Edit.Op = editOp
			}
			if ins := attrValue(t.Attr, "insert"); ins != "" {
				n.Edit.Insert = parseInsertOp(ins)
				n.Edit.AnchorKey = firstNonEmpty(attrValue(t.Attr, "key"), attrValue(t.Attr, "value"))
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.AddChild(n)
			} else {
				root = n
			}
			stack = append(stack, n)

		case xml.CharData:
			if len(stack) > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					top := stack[len(stack)-1]
					top.Value += text
				}
			}

		case xml.EndElement:
			depth--
			if len(stack) == 0 {
				return nil, fmt.Errorf("vtree: unbalanced end element %q", t.Name.Local)
			}
			top := stack[len(stack)-1]
			if len(top.Children) == 0 && top.Value != "" {
				top.Kind = Leaf
			}
			stack = stack[:len(stack)-1]
		}
	}

	return root, nil
}

func attrValue(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func parseInsertOp(s string) InsertOp {
	switch s {
	case "first":
		return InsertFirst
	case "last":
		return InsertLast
	case "before":
		return InsertBefore
	case "after":
		return InsertAfter
	default:
		return InsertNone
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validateSecurity rejects DTD/ENTITY directives in an untrusted payload,
// the same token-scan the teacher's ValidateXMLSecurity performs.
func validateSecurity(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.Entity = nil

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("vtree: invalid XML: %w", err)
		}
		if d, ok := tok.(xml.Directive); ok {
			directive := strings.ToUpper(string(d))
			if strings.HasPrefix(directive, "DOCTYPE") {
				return fmt.Errorf("vtree: DTD declarations are not allowed")
			}
			if strings.HasPrefix(directive, "ENTITY") {
				return fmt.Errorf("vtree: ENTITY declarations are not allowed")
			}
		}
	}
	return nil
}

// EncodeXML serializes n (and its descendants) as an XML fragment, writing
// an xmlns attribute on every element whose Namespace is set. State nodes and
// default-valued leaves are skipped when skipState/skipDefaults is set,
// used by startup persistence (which must not persist operational state or
// default-only leaves, per spec.md §4.7).
func EncodeXML(w io.Writer, n *Node, skipState, skipDefaults bool) error {
	enc := &xmlEncoder{w: w, skipState: skipState, skipDefaults: skipDefaults}
	return enc.encode(n, 0)
}

type xmlEncoder struct {
	w                      io.Writer
	skipState, skipDefaults bool
}

func (e *xmlEncoder) encode(n *Node, indent int) error {
	if n == nil {
		return nil
	}
	if e.skipState && n.Class == State {
		return nil
	}
	if e.skipDefaults && n.IsDefault {
		return nil
	}

	pad := strings.Repeat("  ", indent)
	nsAttr := ""
	if n.Namespace != "" {
		nsAttr = ` xmlns="` + n.Namespace + `"`
	}

	switch n.Kind {
	case Leaf, LeafList, Anyxml:
		fmt.Fprintf(e.w, "%s<%s%s>", pad, n.Name, nsAttr)
		xml.EscapeText(e.w, []byte(n.Value))
		fmt.Fprintf(e.w, "</%s>\n", n.Name)
		return nil
	default:
		if len(n.Children) == 0 {
			fmt.Fprintf(e.w, "%s<%s%s/>\n", pad, n.Name, nsAttr)
			return nil
		}
		fmt.Fprintf(e.w, "%s<%s%s>\n", pad, n.Name, nsAttr)
		for _, c := range n.Children {
			if err := e.encode(c, indent+1); err != nil {
				return err
			}
		}
		fmt.Fprintf(e.w, "%s</%s>\n", pad, n.Name)
		return nil
	}
}
