package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kasloop/netconfd/pkg/datastore"
)

var (
	// Version information (set by ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitOperationError = 1
	ExitUsageError     = 2
)

type flags struct {
	debug         bool
	datastorePath string
}

func main() {
	// Parse command line flags
	f := parseFlags()

	// Parse subcommand
	if flag.NArg() < 1 {
		showUsage()
		os.Exit(ExitUsageError)
	}

	ctx := context.Background()
	command := flag.Arg(0)

	// Dispatch command
	exitCode := dispatch(ctx, command, flag.Args()[1:], f)
	os.Exit(exitCode)
}

func parseFlags() *flags {
	f := &flags{}

	flag.BoolVar(&f.debug, "debug", false,
		"Enable debug output to stderr")
	flag.StringVar(&f.datastorePath, "datastore", "/var/lib/arca-router/config.db",
		"Path to the SQLite datastore file")

	flag.Usage = showUsage
	flag.Parse()

	return f
}

// openDatastore opens the same SQLite backend netconfd serves from, so
// netconfctl always sees the live running/candidate/startup state and
// lock/commit history.
func openDatastore(f *flags) (datastore.Datastore, error) {
	return datastore.NewDatastore(&datastore.Config{
		Backend:    datastore.BackendSQLite,
		SQLitePath: f.datastorePath,
	})
}

func dispatch(ctx context.Context, command string, args []string, f *flags) int {
	debugLog(f, "Dispatching command: %s, args: %v", command, args)

	switch command {
	case "help", "-h", "--help":
		showHelp()
		return ExitSuccess

	case "version", "-v", "--version":
		debugLog(f, "Executing version command")
		return cmdVersion(ctx, f)

	case "show":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Error: 'show' requires a subcommand\n\n")
			showUsage()
			return ExitUsageError
		}
		debugLog(f, "Executing show subcommand: %s", args[0])
		return cmdShow(ctx, args[0], args[1:], f)

	case "set":
		return cmdSet(ctx, args, f)

	case "lock":
		return cmdLock(ctx, args, f)

	case "unlock":
		return cmdUnlock(ctx, args, f)

	case "commit":
		return cmdCommit(ctx, args, f)

	case "rollback":
		return cmdRollback(ctx, args, f)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		showUsage()
		return ExitUsageError
	}
}

func showUsage() {
	fmt.Fprintf(os.Stderr, `Usage: netconfctl [options] <command> [args...]

Commands:
  help                            Show this help message
  version                         Show version information
  show running                    Show the running configuration
  show candidate <session-id>     Show a session's candidate configuration
  show startup                    Show the startup configuration
  show history                    Show commit history
  set <session-id> <path> <value> Set a leaf in a session's candidate
  set <session-id> -              Apply a set/delete script read from stdin
  lock <target> <session-id>      Acquire the lock on a datastore
  unlock <target> <session-id>    Release the lock on a datastore
  commit <session-id>             Promote a session's candidate to running
  rollback <commit-id>            Restore running to a prior commit

target is one of: running, candidate, startup

Options:
  -debug              Enable debug output to stderr
  -datastore <path>   SQLite datastore file path
                       (default: /var/lib/arca-router/config.db)

Examples:
  netconfctl show running
  netconfctl show candidate 3f29a1
  netconfctl set 3f29a1 interfaces eth0 enabled true
  netconfctl lock candidate 3f29a1
  netconfctl commit 3f29a1

`)
}

func showHelp() {
	showUsage()
}

func debugLog(f *flags, format string, args ...interface{}) {
	if f.debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}
