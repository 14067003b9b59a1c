package gpu

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Backend names accepted by NewBackend.
const (
	BackendAuto     = "auto"
	BackendOpenCL   = "opencl"
	BackendEmulated = "emulated"
)

// NewBackend creates the named backend. "auto" tries OpenCL first and falls
// back to the emulated device when no OpenCL runtime is usable.
func NewBackend(kind string, emulated EmulatedConfig, log *zap.Logger) (Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case BackendOpenCL:
		b, err := NewOpenCLBackend(log)
		if err != nil {
			return nil, newError(KindPlatformEnumeration, "NewBackend", "OpenCL backend unavailable", err)
		}
		log.Info("Using OpenCL backend")
		return b, nil
	case BackendEmulated:
		log.Info("Using emulated backend")
		return NewEmulatedBackend(emulated, log), nil
	case "", BackendAuto:
		b, err := NewOpenCLBackend(log)
		if err == nil {
			log.Info("Using OpenCL backend")
			return b, nil
		}
		log.Info("Using emulated backend (OpenCL unavailable)", zap.Error(err))
		return NewEmulatedBackend(emulated, log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s, %s or %s)", kind, BackendAuto, BackendOpenCL, BackendEmulated)
	}
}
