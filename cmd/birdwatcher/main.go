package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"birdwatcher/internal/services"
)

const (
	exitFailure = 1
	exitUsage   = 2
	exitAborted = 130
)

func main() {
	os.Exit(exitCode(os.Stderr, newRootCommand().Execute()))
}

// exitCode reports err on w and maps it to a process status. Bad input and
// configuration exit 2 so scripts can tell them apart from runtime failures.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, services.ErrCancelled) {
		return exitAborted
	}
	fmt.Fprintf(w, "birdwatcher: %v\n", err)
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) {
		return exitUsage
	}
	return exitFailure
}
