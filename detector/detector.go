// Package detector reports the execution capabilities of the host: CPU
// features relevant to the SIMD kernels and, when available, the WebGPU
// adapter the gpu executor would bind to.
package detector

import (
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sys/cpu"
)

/* ---------- public API ---------- */

// Report is a portable summary of the host CPU and GPU capabilities.
type Report struct {
	WhenISO  string            `json:"when_iso"`
	Runtime  string            `json:"runtime"` // "native" or "wasm" (best-effort)
	CPU      CPUReport         `json:"cpu"`
	GPU      *GPUReport        `json:"gpu,omitempty"`
	GPUError string            `json:"gpu_error,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

type CPUReport struct {
	GOOS       string   `json:"goos"`
	GOARCH     string   `json:"goarch"`
	NumCPU     int      `json:"num_cpu"`
	GOMAXPROCS int      `json:"gomaxprocs"`
	Features   []string `json:"features"`
}

type GPUReport struct {
	Backend     string          `json:"backend"`
	AdapterType string          `json:"adapter_type"`
	VendorID    string          `json:"vendor_id_hex"`
	DeviceID    string          `json:"device_id_hex"`
	Name        string          `json:"name"`
	Driver      string          `json:"driver"`
	Recommended Recommendations `json:"recommended"`
	Limits      Limits          `json:"limits"`
	Features    []string        `json:"features"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Conservative 1D workgroup that should run everywhere.
	WorkgroupX uint32 `json:"workgroup_x"`

	// Largest buffer, in elements, a single elementwise job may cover.
	MaxElements uint64 `json:"max_elements"`

	// Soft VRAM budget in bytes for staging + temps.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// BudgetEnv overrides the default GPU memory budget, in MiB.
const BudgetEnv = "REACTOR_BUDGET_MB"

// Detect probes the CPU and the default GPU adapter. A GPU that cannot be
// probed is recorded in GPUError rather than failing the report.
func Detect() *Report {
	rep := &Report{
		WhenISO: time.Now().UTC().Format(time.RFC3339),
		Runtime: detectRuntime(),
		CPU:     DetectCPU(),
		Env:     pickEnv([]string{BudgetEnv}),
	}
	gpu, err := DetectGPU()
	if err != nil {
		rep.GPUError = err.Error()
	} else {
		rep.GPU = gpu
	}
	return rep
}

// JSON renders r as indented JSON.
func JSON(r *Report) (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DetectCPU reports the SIMD features the CPU kernels can take advantage of.
func DetectCPU() CPUReport {
	return CPUReport{
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		Features:   cpuFeatures(),
	}
}

// ChooseWorkgroup picks the largest power-of-two 1D workgroup, up to 256,
// that fits within the device limits.
func ChooseWorkgroup(maxX, maxInvocations uint32) uint32 {
	candidates := []uint32{256, 128, 64, 32, 16, 8, 4, 1}
	for _, c := range candidates {
		if c <= maxX && c <= maxInvocations {
			return c
		}
	}
	// absolute portability fallback
	return 1
}

// Recommend derives launch parameters for elementwise jobs from l.
func Recommend(l Limits) Recommendations {
	wg := ChooseWorkgroup(l.MaxComputeWorkgroupSizeX, l.MaxComputeInvocationsPerWorkgroup)
	maxElems := uint64(wg) * uint64(l.MaxComputeWorkgroupsPerDimension)
	if bind := l.MaxStorageBufferBindingSize / 4; bind < maxElems {
		maxElems = bind
	}
	return Recommendations{
		WorkgroupX:  wg,
		MaxElements: maxElems,
		BudgetBytes: budgetBytes(),
	}
}

/* ---------- helpers ---------- */

func cpuFeatures() []string {
	var feats []string
	add := func(ok bool, name string) {
		if ok {
			feats = append(feats, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return feats
}

func budgetBytes() uint64 {
	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	return budget
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
