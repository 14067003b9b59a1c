package main

import (
	"errors"

	"github.com/fxnlabs/firbench/internal/bench"
	"github.com/fxnlabs/firbench/internal/config"
	"github.com/fxnlabs/firbench/internal/gpu"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitMismatch  = 3
	exitKindBase  = 9 // exitKindBase + gpu.Kind gives 10..20
	exitTransient = 75
)

// exitCode maps an error returned by a command to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig), errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, bench.ErrMismatch):
		return exitMismatch
	case gpu.IsTemporary(err):
		return exitTransient
	}
	if kind := gpu.KindOf(err); kind != 0 {
		return exitKindBase + int(kind)
	}
	return exitFailure
}
