package main

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/kasloop/netconfd/pkg/datastore"
)

func cmdLock(ctx context.Context, args []string, f *flags) int {
	target, sessionID, ok := parseTargetAndSession(args, "lock")
	if !ok {
		return ExitUsageError
	}
	if err := datastore.ValidateLockTarget(target); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	req := &datastore.LockRequest{
		Target:    target,
		SessionID: sessionID,
		User:      currentUser(),
	}
	if err := ds.AcquireLock(ctx, req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to acquire lock on %s: %v\n", target, err)
		return ExitOperationError
	}

	fmt.Printf("Lock acquired on %s by session %s\n", target, sessionID)
	return ExitSuccess
}

func cmdUnlock(ctx context.Context, args []string, f *flags) int {
	target, sessionID, ok := parseTargetAndSession(args, "unlock")
	if !ok {
		return ExitUsageError
	}
	if err := datastore.ValidateLockTarget(target); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	if err := ds.Unlock(ctx, target, sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to release lock on %s: %v\n", target, err)
		return ExitOperationError
	}

	fmt.Printf("Lock released on %s by session %s\n", target, sessionID)
	return ExitSuccess
}

func parseTargetAndSession(args []string, command string) (target, sessionID string, ok bool) {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "Error: '%s' requires a target and a session-id\n\n", command)
		showUsage()
		return "", "", false
	}
	return args[0], args[1], true
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "netconfctl"
}
