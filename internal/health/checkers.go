package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// ErrNotReady is reported while a component is still starting.
var ErrNotReady = errors.New("not ready")

// Backend reports the recognition backend's readiness. It fails while the
// backend is loading and after initialisation failed.
func Backend(name string, r *stt.Readiness) Checker {
	return Checker{
		Name: "backend",
		Check: func(context.Context) error {
			switch r.State() {
			case stt.Ready:
				return nil
			case stt.Failed:
				return fmt.Errorf("%s: %w", name, r.Err())
			default:
				return fmt.Errorf("%s: %w", name, ErrNotReady)
			}
		},
	}
}

// Func wraps a boolean probe, such as "is the capture stream running".
func Func(name string, ok func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ok() {
				return ErrNotReady
			}
			return nil
		},
	}
}
