package main

import (
	"context"
	"fmt"
)

func cmdVersion(ctx context.Context, f *flags) int {
	fmt.Printf("netconfctl\n")
	fmt.Printf("  Version:    %s\n", Version)
	fmt.Printf("  Commit:     %s\n", Commit)
	fmt.Printf("  Build Date: %s\n", BuildDate)

	ds, err := openDatastore(f)
	if err != nil {
		fmt.Printf("\nDatastore: unreachable (%v)\n", err)
		return ExitSuccess
	}
	defer ds.Close()
	fmt.Printf("\nDatastore: %s (reachable)\n", f.datastorePath)

	return ExitSuccess
}
