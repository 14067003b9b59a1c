package gpu

import (
	"fmt"
	"os"

	"github.com/fxnlabs/firbench/kernels"
)

// SourceLoader supplies kernel source text to the binder.
type SourceLoader interface {
	// Load returns the source text. An empty result is treated as a load
	// failure by Bind.
	Load() (string, error)
	// Origin names where the source comes from, for logs and errors.
	Origin() string
}

// FileSource loads kernel source from a path on disk.
type FileSource string

func (f FileSource) Load() (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("failed to read kernel source: %w", err)
	}
	return string(data), nil
}

func (f FileSource) Origin() string {
	return string(f)
}

// StringSource serves source text held in memory.
type StringSource struct {
	Name string
	Text string
}

func (s StringSource) Load() (string, error) {
	return s.Text, nil
}

func (s StringSource) Origin() string {
	if s.Name == "" {
		return "<memory>"
	}
	return s.Name
}

// EmbeddedSource returns the FIR kernel compiled into the binary.
func EmbeddedSource() SourceLoader {
	return StringSource{Name: "embedded:fir.cl", Text: kernels.FIRSource}
}

// SourceFor picks a FileSource when path is set and the embedded kernel
// otherwise.
func SourceFor(path string) SourceLoader {
	if path == "" {
		return EmbeddedSource()
	}
	return FileSource(path)
}
