//go:build js

package detector

import (
	"github.com/openfluke/reactor/device"
	"golang.org/x/xerrors"
)

// DetectGPU is not supported in the browser build.
func DetectGPU() (*GPUReport, error) {
	return nil, xerrors.Errorf("wasm runtime: %w", device.ErrNoGPU)
}
