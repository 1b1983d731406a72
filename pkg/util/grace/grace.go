package grace

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// ForcedExitCode is the exit code of a process stopped by a repeated
// signal.
const ForcedExitCode = 1

// NewGracefulContext returns grace context that cancelled by sigint,
// sigterm and sighup. A second signal terminates the process at once.
func NewGracefulContext(l *zap.Logger) context.Context {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	return watch(l, ch, func() { os.Exit(ForcedExitCode) })
}

func watch(l *zap.Logger, ch <-chan os.Signal, exit func()) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sig := <-ch
		report(l, "received signal, stopping", sig)
		cancel()

		sig = <-ch
		report(l, "received second signal, exiting immediately", sig)
		exit()
	}()

	return ctx
}

func report(l *zap.Logger, msg string, sig os.Signal) {
	if l != nil {
		l.Info(msg, zap.String("signal", sig.String()))
	} else {
		fmt.Printf("%s: %s\n", msg, sig)
	}
}
