package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BadgerOps/misopack/internal/archive"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: 2 for a refused
// precondition, 1 for anything else.
func exitCode(err error) int {
	for _, precondition := range []error{
		archive.ErrNotADirectory,
		archive.ErrAlreadyExists,
		archive.ErrSameLocation,
		archive.ErrNotFound,
	} {
		if errors.Is(err, precondition) {
			return 2
		}
	}
	return 1
}
