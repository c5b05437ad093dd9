// Package window holds the best-effort foreground-window activation hook.
// Focusing is fire-and-forget; the control loop never depends on it having
// worked.
package window

import "go.uber.org/zap"

// Activator brings the game window to the foreground before input starts.
type Activator interface {
	Activate() error
}

// Noop satisfies Activator on platforms without a focus backend, logging the
// skip once so operators know to focus the window themselves.
type Noop struct {
	Logger *zap.Logger
}

func (n Noop) Activate() error {
	if n.Logger != nil {
		n.Logger.Info("Window activation not available on this platform, focus the game window manually.")
	}
	return nil
}
