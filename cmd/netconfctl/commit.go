package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kasloop/netconfd/pkg/datastore"
)

func cmdCommit(ctx context.Context, args []string, f *flags) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Error: 'commit' requires a session-id\n\n")
		showUsage()
		return ExitUsageError
	}
	sessionID := args[0]

	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	commitID, err := ds.Commit(ctx, &datastore.CommitRequest{
		SessionID: sessionID,
		User:      currentUser(),
		Message:   "netconfctl commit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: commit failed: %v\n", err)
		return ExitOperationError
	}

	fmt.Printf("Committed %s\n", commitID)
	return ExitSuccess
}

func cmdRollback(ctx context.Context, args []string, f *flags) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Error: 'rollback' requires a commit-id\n\n")
		showUsage()
		return ExitUsageError
	}
	commitID := args[0]

	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	newCommitID, err := ds.Rollback(ctx, &datastore.RollbackRequest{
		CommitID: commitID,
		User:     currentUser(),
		Message:  "netconfctl rollback",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: rollback failed: %v\n", err)
		return ExitOperationError
	}

	fmt.Printf("Rolled back to %s (new commit %s)\n", commitID, newCommitID)
	return ExitSuccess
}
