package netconf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// XML Namespace constants per Phase 2 plan
const (
	NetconfBaseNS    = "urn:ietf:params:xml:ns:netconf:base:1.0"
	IETFInterfacesNS = "urn:ietf:params:xml:ns:yang:ietf-interfaces"
	IETFRoutingNS    = "urn:ietf:params:xml:ns:yang:ietf-routing"
)

// XML size and depth limits per Phase 2 plan Section 10.1
const (
	MaxXMLDepth      = 50
	MaxXMLElements   = 10000
	MaxXMLAttributes = 20
	MaxXMLSize       = 10 * 1024 * 1024 // 10MB
)

// ValidateXMLSecurity performs token-based DTD/ENTITY detection per Phase 2 Step 2
func ValidateXMLSecurity(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	decoder.Entity = nil

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewRPCError(ErrorTypeProtocol, ErrorTagMalformedMessage,
				fmt.Sprintf("invalid XML: %v", err)).
				WithPath("/rpc")
		}

		switch t := token.(type) {
		case xml.Directive:
			// Reject DOCTYPE, ENTITY directives (case-insensitive)
			directive := strings.ToUpper(string(t))
			if strings.HasPrefix(directive, "DOCTYPE") {
				return NewRPCError(ErrorTypeProtocol, ErrorTagMalformedMessage,
					"DTD declarations are not allowed").
					WithPath("/rpc").
					WithBadElement("DOCTYPE")
			}
			if strings.HasPrefix(directive, "ENTITY") {
				return NewRPCError(ErrorTypeProtocol, ErrorTagMalformedMessage,
					"ENTITY declarations are not allowed").
					WithPath("/rpc").
					WithBadElement("ENTITY")
			}
		}
	}

	return nil
}

// ValidateFilterDepthAndSize validates filter depth and size per Phase 2 Step 3
func ValidateFilterDepthAndSize(rpcName string, filter *Filter) error {
	if filter == nil || len(filter.Content) == 0 {
		return nil
	}

	// Calculate depth by counting nested elements
	depth := calculateFilterDepth(filter.Content)
	if depth > MaxXMLDepth {
		return NewRPCError(ErrorTypeProtocol, ErrorTagInvalidValue,
			fmt.Sprintf("filter exceeds maximum depth limit (%d)", MaxXMLDepth)).
			WithPath(fmt.Sprintf("/rpc/%s/filter", rpcName)).
			WithAppTag("depth-limit")
	}

	// Count elements
	count := countFilterElements(filter.Content)
	if count > MaxXMLElements {
		return NewRPCError(ErrorTypeProtocol, ErrorTagInvalidValue,
			fmt.Sprintf("filter exceeds maximum element limit (%d)", MaxXMLElements)).
			WithPath(fmt.Sprintf("/rpc/%s/filter", rpcName)).
			WithAppTag("size-limit")
	}

	return nil
}

// calculateFilterDepth calculates nesting depth of filter XML
func calculateFilterDepth(content []byte) int {
	depth := 0
	maxDepth := 0

	for i := 0; i < len(content); i++ {
		if content[i] == '<' {
			if i+1 < len(content) && content[i+1] != '/' && content[i+1] != '?' && content[i+1] != '!' {
				depth++
				if depth > maxDepth {
					maxDepth = depth
				}
			} else if i+1 < len(content) && content[i+1] == '/' {
				depth--
			}
		}
	}

	return maxDepth
}

// countFilterElements counts XML elements in filter
func countFilterElements(content []byte) int {
	count := 0

	for i := 0; i < len(content); i++ {
		if content[i] == '<' {
			if i+1 < len(content) && content[i+1] != '/' && content[i+1] != '?' && content[i+1] != '!' {
				count++
			}
		}
	}

	return count
}

// ValidateProtocolNamespace validates protocol element namespace per Phase 2 Step 2
func ValidateProtocolNamespace(elem xml.Name) error {
	// Empty namespace is allowed (default namespace inheritance)
	// Only reject if non-base namespace is explicitly specified
	if elem.Space != NetconfBaseNS && elem.Space != "" {
		return NewRPCError(ErrorTypeProtocol, "unknown-namespace",
			"invalid namespace for protocol element").
			WithPath("/rpc/" + elem.Local).
			WithBadNamespace(elem.Space)
	}
	return nil
}
