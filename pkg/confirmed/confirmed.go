// Package confirmed implements the confirmed-commit state machine (C6):
// inactive -> active, armed with a cancel timer, completed by a follow-up
// <commit>, extended by a repeated confirmed <commit>, and cancelled
// either explicitly or by timer expiry -- both paths restoring the backup
// taken when the confirmed commit began.
//
// Grounded on original_source/agt_cfg.c's agt_cfg_confirmed_commit state
// machine for the transitions themselves, and on the teacher's
// time.AfterFunc-driven expiry idiom (session idle-timeout in
// pkg/netconf/session.go, lock-timeout cleanup in pkg/datastore/sqlite.go)
// for the timer plumbing.
package confirmed

import (
	"fmt"
	"sync"
	"time"

	"github.com/kasloop/netconfd/pkg/notify"
)

// DefaultTimeout is the confirm-timeout default per RFC 6241 §8.4.1 (600s)
// when a <commit> omits <confirm-timeout>.
const DefaultTimeout = 600 * time.Second

// Restorer performs the actual rollback-to-backup filesystem/datastore
// operation; the controller only drives the state machine and timer.
type Restorer interface {
	RestoreFromBackup(backupPath string) error
}

// Controller owns the single confirmed-commit block for one engine
// instance (never a package-level global, per spec.md §9's redesign note).
type Controller struct {
	mu sync.Mutex

	active       bool
	ownerSession string
	persistID    string
	backupPath   string
	timer        *time.Timer

	restorer Restorer
	emitter  *notify.Emitter
}

// New constructs a Controller bound to a Restorer (the datastore façade)
// and an Emitter for confirmed-commit notifications.
func New(restorer Restorer, emitter *notify.Emitter) *Controller {
	return &Controller{restorer: restorer, emitter: emitter}
}

// Active reports whether a confirmed commit is currently pending follow-up.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Begin starts a confirmed commit: the backup at backupPath has already
// been written by the caller before calling Begin, and timeout is armed to
// restore that backup automatically and emit a TIMEOUT event on expiry.
func (c *Controller) Begin(sessionID, persistID, backupPath string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return fmt.Errorf("confirmed: a confirmed commit is already active")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.active = true
	c.ownerSession = sessionID
	c.persistID = persistID
	c.backupPath = backupPath
	c.timer = time.AfterFunc(timeout, c.onTimeout)

	c.emit(notify.CCStart, "")
	return nil
}

// Extend re-arms the timer on a repeated confirmed <commit>, requiring
// either the original owner session or a matching persist-id.
func (c *Controller) Extend(sessionID, persistID string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return fmt.Errorf("confirmed: no confirmed commit is active")
	}
	if err := c.checkOwnershipLocked(sessionID, persistID); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(timeout, c.onTimeout)
	c.emit(notify.CCExtend, "")
	return nil
}

// Complete finalizes the confirmed commit on a follow-up unconfirmed
// <commit>, disarming the timer without restoring the backup.
func (c *Controller) Complete(sessionID, persistID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil // a plain <commit> with nothing pending is a no-op here
	}
	if err := c.checkOwnershipLocked(sessionID, persistID); err != nil {
		return err
	}
	c.stopLocked()
	c.emit(notify.CCComplete, "")
	return nil
}

// Cancel aborts the confirmed commit explicitly (via <cancel-commit>) or
// because the owner session died with no persist-id set, restoring the
// pre-commit backup. Per spec.md §9's open-question decision, a restore
// failure here does NOT suppress the cancel notification -- only a commit
// path's own rollback failure suppresses sysConfigChange.
func (c *Controller) Cancel(sessionID, persistID string) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return fmt.Errorf("confirmed: no confirmed commit is active")
	}
	if err := c.checkOwnershipLocked(sessionID, persistID); err != nil {
		c.mu.Unlock()
		return err
	}
	backupPath := c.backupPath
	c.stopLocked()
	c.mu.Unlock()

	err := c.restorer.RestoreFromBackup(backupPath)
	c.emit(notify.CCCancel, "")
	return err
}

// OwnerSessionClosed reacts to the owning session closing: if a
// persist-id is set, the confirmed commit survives the session per RFC
// 6241 §8.4.1 (the owner is cleared); otherwise it is cancelled through
// Cancel on behalf of the closing owner session, restoring the backup.
func (c *Controller) OwnerSessionClosed(sessionID string) {
	c.mu.Lock()
	if !c.active || c.ownerSession != sessionID {
		c.mu.Unlock()
		return
	}
	if c.persistID != "" {
		c.ownerSession = ""
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.Cancel(sessionID, "")
}

func (c *Controller) onTimeout() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	backupPath := c.backupPath
	c.stopLocked()
	c.mu.Unlock()

	_ = c.restorer.RestoreFromBackup(backupPath)
	c.emit(notify.CCTimeout, "")
}

func (c *Controller) checkOwnershipLocked(sessionID, persistID string) error {
	if c.persistID != "" {
		if persistID != c.persistID {
			return fmt.Errorf("confirmed: persist-id does not match")
		}
		return nil
	}
	if sessionID != c.ownerSession {
		return fmt.Errorf("confirmed: confirmed commit owned by a different session")
	}
	return nil
}

func (c *Controller) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.active = false
	c.ownerSession = ""
	c.persistID = ""
	c.backupPath = ""
	c.timer = nil
}

func (c *Controller) emit(kind notify.ConfirmedCommitEventKind, detail string) {
	if c.emitter == nil {
		return
	}
	c.emitter.Publish(notify.Event{Type: notify.EventConfirmedCommit, CCKind: kind, Detail: detail})
}
