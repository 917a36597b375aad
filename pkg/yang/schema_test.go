package yang

import (
	"testing"

	"github.com/kasloop/netconfd/pkg/vtree"
)

const testModule = `
module test-if {
  namespace "urn:test:if";
  prefix tif;

  container interfaces {
    list interface {
      key "name";
      min-elements 1;

      leaf name {
        type string;
        mandatory true;
      }
      leaf enabled {
        type boolean;
        default "true";
      }
    }
  }
}
`

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator([]byte(testModule), "test-if.yang")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestLookupFindsListKeysAndCardinality(t *testing.T) {
	v := newTestValidator(t)

	root, err := v.Root("test-if")
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	ifaces := root.Children["interfaces"]
	if ifaces == nil {
		t.Fatalf("expected interfaces container in schema")
	}
	iface := ifaces.Children["interface"]
	if iface == nil || iface.Kind != KindList {
		t.Fatalf("expected interface list node")
	}
	if len(iface.Keys) != 1 || iface.Keys[0] != "name" {
		t.Errorf("expected key [name], got %v", iface.Keys)
	}
	if iface.MinElements != 1 {
		t.Errorf("expected min-elements 1, got %d", iface.MinElements)
	}
}

func TestCheckDatastoreFlagsMissingMandatoryAndMinElements(t *testing.T) {
	v := newTestValidator(t)

	root := vtree.NewContainer("data", "", vtree.Container)
	data := vtree.NewContainer("interfaces", "", vtree.Container)
	root.AddChild(data)

	violations := v.CheckDatastore(root)
	if len(violations) == 0 {
		t.Fatalf("expected min-elements violation for empty interface list")
	}
}

func TestCheckDatastorePassesWithRequiredInstance(t *testing.T) {
	v := newTestValidator(t)

	root := vtree.NewContainer("data", "", vtree.Container)
	data := vtree.NewContainer("interfaces", "", vtree.Container)
	iface := vtree.NewContainer("interface", "", vtree.List)
	iface.Keys = []string{"name"}
	name := vtree.NewLeaf("name", "", "eth0", vtree.Leaf)
	iface.AddChild(name)
	data.AddChild(iface)
	root.AddChild(data)

	violations := v.CheckDatastore(root)
	for _, viol := range violations {
		t.Errorf("unexpected violation: %s: %s", viol.Path, viol.Message)
	}
}
