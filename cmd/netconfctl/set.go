package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kasloop/netconfd/pkg/netconf"
	"github.com/kasloop/netconfd/pkg/vtree"
)

// cmdSet applies one or more "set <path> <value>" / "delete <path>" lines
// to a session's candidate configuration. When the argument after the
// session-id is anything but "-", it joins all remaining args into a single
// set command; when it is "-", it reads a script of such lines from stdin, one
// command per line, in the same line-oriented style the teacher used for
// router set-command scripts.
func cmdSet(ctx context.Context, args []string, f *flags) int {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Error: 'set' requires a session-id and a path/value or '-' to read a script from stdin\n\n")
		showUsage()
		return ExitUsageError
	}
	sessionID := args[0]

	var cmds []vtree.SetCommand
	if args[1] == "-" {
		parsed, err := vtree.ParseSetCommands(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitUsageError
		}
		cmds = parsed
	} else {
		parsed, err := vtree.ParseSetCommands(strings.NewReader("set " + strings.Join(args[1:], " ") + "\n"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitUsageError
		}
		cmds = parsed
	}

	ds, err := openDatastore(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open datastore: %v\n", err)
		return ExitOperationError
	}
	defer ds.Close()

	candidate, err := ds.GetCandidate(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read candidate for session %s: %v\n", sessionID, err)
		return ExitOperationError
	}
	root, err := netconf.TextToNode(candidate.ConfigText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to parse candidate config: %v\n", err)
		return ExitOperationError
	}

	for _, cmd := range cmds {
		if err := cmd.Apply(root); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitOperationError
		}
	}

	text, err := netconf.NodeToText(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to serialize candidate config: %v\n", err)
		return ExitOperationError
	}
	if err := ds.SaveCandidate(ctx, sessionID, text); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save candidate: %v\n", err)
		return ExitOperationError
	}

	fmt.Printf("Applied %d command(s) to session %s's candidate\n", len(cmds), sessionID)
	return ExitSuccess
}
