package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kasloop/netconfd/pkg/datastore"
	"github.com/kasloop/netconfd/pkg/netconf"
	"github.com/kasloop/netconfd/pkg/vtree"
)

func cmdShow(ctx context.Context, subcommand string, args []string, f *flags) int {
	switch subcommand {
	case "running":
		return cmdShowRunning(ctx, f)

	case "candidate":
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "Error: 'show candidate' requires a session-id\n\n")
			showUsage()
			return ExitUsageError
		}
		return cmdShowCandidate(ctx, args[0], f)

	case "startup":
		return cmdShowStartup(ctx, f)

	case "history":
		return cmdShowHistory(ctx, f)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown show subcommand '%s'\n\n", subcommand)
		showUsage()
		return ExitUsageError
	}
}

func cmdShowRunning(ctx context.Context, f *flags) int {
	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	cfg, err := ds.GetRunning(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read running config: %v\n", err)
		return ExitOperationError
	}
	return printConfigText(cfg.ConfigText)
}

func cmdShowCandidate(ctx context.Context, sessionID string, f *flags) int {
	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	cfg, err := ds.GetCandidate(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read candidate config: %v\n", err)
		return ExitOperationError
	}
	return printConfigText(cfg.ConfigText)
}

func cmdShowStartup(ctx context.Context, f *flags) int {
	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	cfg, err := ds.GetStartup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read startup config: %v\n", err)
		return ExitOperationError
	}
	return printConfigText(cfg.ConfigText)
}

func cmdShowHistory(ctx context.Context, f *flags) int {
	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	entries, err := ds.ListCommitHistory(ctx, &datastore.HistoryOptions{Limit: 50})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read commit history: %v\n", err)
		return ExitOperationError
	}

	headers := []string{"Commit", "User", "Timestamp", "Rollback", "Message"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CommitID,
			e.User,
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			fmt.Sprintf("%t", e.IsRollback),
			e.Message,
		})
	}
	if err := FormatTable(os.Stdout, headers, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to format commit history: %v\n", err)
		return ExitOperationError
	}
	return ExitSuccess
}

// printConfigText parses the datastore's serialized tree and re-renders it
// as indented XML, the same wire representation a NETCONF <get-config>
// reply carries.
func printConfigText(text string) int {
	root, err := netconf.TextToNode(text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to parse config: %v\n", err)
		return ExitOperationError
	}
	for _, child := range root.Children {
		if err := vtree.EncodeXML(os.Stdout, child, false, false); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to render config: %v\n", err)
			return ExitOperationError
		}
	}
	return ExitSuccess
}
