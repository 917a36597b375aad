// Package txn implements the transaction control block, undo log, and
// transaction-id allocator that back every datastore edit: <edit-config>,
// <copy-config>, <delete-config>, and <commit> all run through a *Tx.
//
// Unlike the original C engine's process-global counter and confirmed-commit
// block, the allocator and Tx here are owned by whatever constructs them
// (normally one per running engine instance) so tests can run independent
// engines without shared mutable state.
package txn

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Allocator hands out monotonically increasing, non-zero transaction ids,
// durably persisting the high-water mark to a file after every allocation
// so a crash never reissues an id already seen by a prior transaction.
// Grounded on the teacher's synchronous-write commit idiom in
// sqlite_commit.go (every state change that must survive a crash is
// flushed before the call returns), applied here to a flat counter file
// instead of a SQL transaction.
type Allocator struct {
	mu   sync.Mutex
	path string
	next uint64
}

// NewAllocator opens (or creates) the counter file at path and recovers the
// last allocated id. A missing file starts the counter at 1.
func NewAllocator(path string) (*Allocator, error) {
	a := &Allocator{path: path, next: 1}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("txn: open counter file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		var last uint64
		if _, err := fmt.Sscanf(scanner.Text(), "%d", &last); err != nil {
			return nil, fmt.Errorf("txn: corrupt counter file %s: %w", path, err)
		}
		a.next = last + 1
		if a.next == 0 { // wrapped past max uint64
			a.next = 1
		}
	}
	return a, nil
}

// Allocate returns the next transaction id, skipping 0, and persists the
// new high-water mark synchronously before returning it.
func (a *Allocator) Allocate() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	if id == 0 {
		id = 1
	}
	nextVal := id + 1
	if nextVal == 0 {
		nextVal = 1
	}

	if err := a.persist(id); err != nil {
		return 0, err
	}
	a.next = nextVal
	return id, nil
}

func (a *Allocator) persist(id uint64) error {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("txn: write counter file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", id); err != nil {
		return fmt.Errorf("txn: write counter file: %w", err)
	}
	return f.Sync()
}
