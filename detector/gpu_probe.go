//go:build !js

package detector

import (
	"fmt"
	"strings"

	"github.com/openfluke/reactor/device"
	"github.com/openfluke/webgpu/wgpu"
	"golang.org/x/xerrors"
)

// DetectGPU probes the default high-performance adapter.
func DetectGPU() (*GPUReport, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, xerrors.Errorf("wgpu.CreateInstance returned nil: %w", device.ErrNoGPU)
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, xerrors.Errorf("request adapter: %v: %w", err, device.ErrNoGPU)
	}
	if adapter == nil {
		return nil, xerrors.Errorf("no adapter: %w", device.ErrNoGPU)
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	return &GPUReport{
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      LimitsOf(limits),
		Features:    feats,
		Recommended: Recommend(LimitsOf(limits)),
	}, nil
}

// LimitsOf extracts the compute limits relevant to elementwise jobs.
func LimitsOf(l wgpu.SupportedLimits) Limits {
	return Limits{
		MaxComputeInvocationsPerWorkgroup: l.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  l.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       l.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.Limits.MaxBufferSize,
	}
}
