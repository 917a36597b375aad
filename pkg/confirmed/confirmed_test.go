package confirmed

import (
	"testing"
	"time"

	"github.com/kasloop/netconfd/pkg/notify"
)

type fakeRestorer struct {
	restored []string
}

func (f *fakeRestorer) RestoreFromBackup(path string) error {
	f.restored = append(f.restored, path)
	return nil
}

func TestBeginRejectsDoubleActivation(t *testing.T) {
	r := &fakeRestorer{}
	c := New(r, &notify.Emitter{})

	if err := c.Begin("sess1", "", "/tmp/backup", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Begin("sess1", "", "/tmp/backup", time.Minute); err == nil {
		t.Fatalf("expected second Begin to fail while active")
	}
}

func TestCompleteDisarmsWithoutRestoring(t *testing.T) {
	r := &fakeRestorer{}
	c := New(r, &notify.Emitter{})

	if err := c.Begin("sess1", "", "/tmp/backup", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Complete("sess1", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Active() {
		t.Errorf("expected controller to be inactive after Complete")
	}
	if len(r.restored) != 0 {
		t.Errorf("expected no restore on Complete, got %v", r.restored)
	}
}

func TestCancelRestoresBackup(t *testing.T) {
	r := &fakeRestorer{}
	c := New(r, &notify.Emitter{})

	if err := c.Begin("sess1", "", "/tmp/backup", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Cancel("sess1", ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(r.restored) != 1 || r.restored[0] != "/tmp/backup" {
		t.Errorf("expected restore from /tmp/backup, got %v", r.restored)
	}
	if c.Active() {
		t.Errorf("expected controller to be inactive after Cancel")
	}
}

func TestCompleteRejectsWrongSession(t *testing.T) {
	r := &fakeRestorer{}
	c := New(r, &notify.Emitter{})

	if err := c.Begin("sess1", "", "/tmp/backup", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Complete("sess2", ""); err == nil {
		t.Fatalf("expected Complete from a different session to fail")
	}
}

func TestPersistIDSurvivesOwnerSessionClose(t *testing.T) {
	r := &fakeRestorer{}
	c := New(r, &notify.Emitter{})

	if err := c.Begin("sess1", "keep-me", "/tmp/backup", time.Minute); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.OwnerSessionClosed("sess1")
	if !c.Active() {
		t.Errorf("expected confirmed commit to survive owner session close when persist-id is set")
	}
	if len(r.restored) != 0 {
		t.Errorf("expected no restore when persist-id keeps the block alive")
	}
}

func TestTimeoutCancelsAndRestores(t *testing.T) {
	r := &fakeRestorer{}
	c := New(r, &notify.Emitter{})

	if err := c.Begin("sess1", "", "/tmp/backup", 20*time.Millisecond); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for c.Active() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for confirm-timeout to fire")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(r.restored) != 1 {
		t.Errorf("expected restore on timeout, got %v", r.restored)
	}
}
