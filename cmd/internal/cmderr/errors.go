package cmderr

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes of the commands.
const (
	// CodeFailure is returned on generic failures and on interruption of
	// an active packing run.
	CodeFailure = 1
	// CodeConfig is returned on invalid configuration.
	CodeConfig = 2
)

// ExitErr specific error for ExitOnErr function that passes the exit code and error caused.
type ExitErr struct {
	Code  int
	Cause error
}

func (x ExitErr) Error() string { return x.Cause.Error() }

func (x ExitErr) Unwrap() error { return x.Cause }

// Config wraps err into ExitErr with CodeConfig. Returns nil for nil err.
func Config(err error) error {
	if err == nil {
		return nil
	}
	return ExitErr{Code: CodeConfig, Cause: fmt.Errorf("invalid configuration: %w", err)}
}

// Code returns the exit code for err: 0 for nil, ExitErr.Code if err
// wraps ExitErr or CodeFailure otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}

	var e ExitErr
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeFailure
}

// ExitOnErr writes error to os.Stderr and calls os.Exit with passed exit code or by default 1.
// Does nothing if err is nil.
func ExitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(Code(err))
	}
}
