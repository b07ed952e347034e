package keychain

import (
	"github.com/decred/slog"
)

// kchnLog is a logger that is initialized with no output filters. This
// means the package will not perform any logging by default until the
// caller requests it.
var kchnLog slog.Logger

func init() {
	UseLogger(slog.Disabled)
}

// DisableLog disables all library log output.
func DisableLog() {
	UseLogger(slog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger slog.Logger) {
	kchnLog = logger
}
