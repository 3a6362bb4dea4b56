package app

import (
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitStartup     = 1
	ExitNoDevice    = 2
	ExitBackendInit = 3
)

// ErrMissingAsset reports that a file a backend needs does not exist.
var ErrMissingAsset = errors.New("app: missing asset")

// StartupError reports a failure before the pipeline reached steady state.
// Stage names the startup step ("assets", "audio", "http", "store", ...)
// and Resource the path, device or address involved.
type StartupError struct {
	Stage    string
	Resource string
	Err      error
}

func (e *StartupError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("app: startup %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("app: startup %s %q: %v", e.Stage, e.Resource, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by [App.Run] to the process exit code.
func ExitCode(err error) int {
	var initErr *stt.InitError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, audio.ErrNoInputDevice):
		return ExitNoDevice
	case errors.As(err, &initErr):
		return ExitBackendInit
	default:
		return ExitStartup
	}
}
