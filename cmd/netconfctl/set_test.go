package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kasloop/netconfd/pkg/netconf"
)

// testFlags points at a fresh on-disk SQLite file rather than ":memory:":
// cmdSet opens the datastore once to seed a candidate and again inside
// cmdSet itself, and separate ":memory:" connections don't share state.
func testFlags(t *testing.T) *flags {
	t.Helper()
	return &flags{datastorePath: filepath.Join(t.TempDir(), "netconfctl-test.db")}
}

func TestCmdSetAppliesToCandidate(t *testing.T) {
	f := testFlags(t)
	ctx := context.Background()

	ds, err := openDatastore(f)
	if err != nil {
		t.Fatalf("openDatastore: %v", err)
	}
	if err := ds.SaveCandidate(ctx, "sess1", ""); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	ds.Close()

	if code := cmdSet(ctx, []string{"sess1", "interfaces", "eth0", "enabled", "true"}, f); code != ExitSuccess {
		t.Fatalf("cmdSet returned %d, want ExitSuccess", code)
	}

	ds2, err := openDatastore(f)
	if err != nil {
		t.Fatalf("openDatastore (verify): %v", err)
	}
	defer ds2.Close()

	candidate, err := ds2.GetCandidate(ctx, "sess1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	root, err := netconf.TextToNode(candidate.ConfigText)
	if err != nil {
		t.Fatalf("TextToNode: %v", err)
	}

	interfaces := root.Child("interfaces")
	if interfaces == nil {
		t.Fatalf("expected 'interfaces' container in candidate, got none")
	}
	eth0 := interfaces.Child("eth0")
	if eth0 == nil {
		t.Fatalf("expected 'eth0' container under 'interfaces'")
	}
	enabled := eth0.Child("enabled")
	if enabled == nil || enabled.Value != "true" {
		t.Fatalf("expected eth0/enabled=true, got %+v", enabled)
	}
}

func TestCmdSetRejectsMissingArgs(t *testing.T) {
	f := testFlags(t)
	if code := cmdSet(context.Background(), []string{"sess1"}, f); code != ExitUsageError {
		t.Fatalf("cmdSet with too few args returned %d, want ExitUsageError", code)
	}
}

func TestCmdSetMalformedScript(t *testing.T) {
	f := testFlags(t)
	ctx := context.Background()
	ds, err := openDatastore(f)
	if err != nil {
		t.Fatalf("openDatastore: %v", err)
	}
	if err := ds.SaveCandidate(ctx, "sess1", ""); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	ds.Close()

	if code := cmdSet(ctx, []string{"sess1", "only-one-segment"}, f); code != ExitOperationError {
		t.Fatalf("cmdSet with a path but no value should fail to apply, got %d", code)
	}
}
