//go:build !opencl

package gpu

import (
	"errors"

	"go.uber.org/zap"
)

// ErrOpenCLUnavailable is returned when the binary was built without the
// opencl tag.
var ErrOpenCLUnavailable = errors.New("built without OpenCL support (rebuild with -tags opencl)")

// OpenCLBackend is a stub type when OpenCL is not compiled in
type OpenCLBackend struct{}

func NewOpenCLBackend(log *zap.Logger) (*OpenCLBackend, error) {
	return nil, ErrOpenCLUnavailable
}

func (b *OpenCLBackend) Name() string      { return "opencl" }
func (b *OpenCLBackend) IsAvailable() bool { return false }

func (b *OpenCLBackend) Platforms() ([]Platform, error) {
	return nil, ErrOpenCLUnavailable
}

func (b *OpenCLBackend) CreateContext(devices []Device) (Context, error) {
	return nil, ErrOpenCLUnavailable
}
