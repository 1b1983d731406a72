//go:build linux

package prefetch

import (
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// warmUp asks the kernel to start reading the whole file in background.
func warmUp(f *os.File, log *zap.Logger) {
	err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_WILLNEED)
	if err != nil {
		log.Debug("read-ahead advice failed", zap.String("path", f.Name()), zap.Error(err))
	}
}
