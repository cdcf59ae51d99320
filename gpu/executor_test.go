package gpu

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/openfluke/reactor/device"
)

// newTestExecutor skips the test when the host has no usable adapter.
func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	exec, err := NewExecutor(Config{})
	if errors.Is(err, device.ErrNoGPU) {
		t.Skipf("no GPU available: %v", err)
	}
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return exec
}

func TestExecutorMultiplyThenAdd(t *testing.T) {
	exec := newTestExecutor(t)

	data := make([]float64, 32)
	for i := range data {
		data[i] = float64(i)
	}
	if err := device.Run(context.Background(), exec, device.Kernel{Op: device.Multiply{A: 0.1}, Data: data}); err != nil {
		t.Fatalf("multiply: %v", err)
	}
	if err := device.Run(context.Background(), exec, device.Kernel{Op: device.Add{B: 2}, Data: data}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i, v := range data {
		want := 2 + float64(i)/10
		if math.Abs(v-want) > 1e-5 {
			t.Errorf("data[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestExecutorLargeBuffer(t *testing.T) {
	exec := newTestExecutor(t)

	n := int(exec.Workgroup())*3 + 17
	data := make([]float64, n)
	for i := range data {
		data[i] = 1
	}
	if err := device.Run(context.Background(), exec, device.Kernel{Op: device.Add{B: 4}, Data: data}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i, v := range data {
		if v != 5 {
			t.Fatalf("data[%d] = %v, want 5", i, v)
		}
	}
}

func TestExecutorRejectsUnknownOp(t *testing.T) {
	exec := newTestExecutor(t)

	data := []float64{1, 2}
	err := device.Run(context.Background(), exec, device.Kernel{Op: negate{}, Data: data})
	var execErr *device.ExecutionError
	if !errors.As(err, &execErr) || !errors.Is(err, device.ErrUnsupportedOp) {
		t.Fatalf("expected ExecutionError wrapping ErrUnsupportedOp, got %v", err)
	}
	if data[0] != 1 || data[1] != 2 {
		t.Errorf("rejected job must not touch the buffer: %v", data)
	}
}

func TestExecutorRejectsValuesOutsideFloat32(t *testing.T) {
	exec := newTestExecutor(t)

	tests := []struct {
		name string
		op   device.Op
		data []float64
	}{
		{"element", device.Multiply{A: 1}, []float64{1e300, 0.1, 3}},
		{"factor", device.Multiply{A: 1e300}, []float64{1, 2}},
		{"addend", device.Add{B: 16777217}, []float64{0}},
		{"result", device.Multiply{A: 10}, []float64{1, 3e38}},
	}
	for _, tt := range tests {
		orig := append([]float64(nil), tt.data...)
		err := device.Run(context.Background(), exec, device.Kernel{Op: tt.op, Data: tt.data})
		var execErr *device.ExecutionError
		if !errors.As(err, &execErr) || !errors.Is(err, device.ErrOutOfRange) {
			t.Errorf("%s: expected ExecutionError wrapping ErrOutOfRange, got %v", tt.name, err)
			continue
		}
		for i := range orig {
			if tt.data[i] != orig[i] {
				t.Errorf("%s: rejected job changed data[%d] to %v", tt.name, i, tt.data[i])
			}
		}
	}
}

func TestExecutorRejectsOversizedBuffer(t *testing.T) {
	exec := newTestExecutor(t)
	exec.maxElements = 4

	data := []float64{1, 2, 3, 4, 5}
	err := device.Run(context.Background(), exec, device.Kernel{Op: device.Add{B: 1}, Data: data})
	var execErr *device.ExecutionError
	if !errors.As(err, &execErr) || !errors.Is(err, device.ErrBufferTooLarge) {
		t.Fatalf("expected ExecutionError wrapping ErrBufferTooLarge, got %v", err)
	}
	for i, v := range data {
		if v != float64(i+1) {
			t.Fatalf("rejected job changed data[%d] to %v", i, v)
		}
	}

	if err := device.Run(context.Background(), exec, device.Kernel{Op: device.Add{B: 1}, Data: data[:4]}); err != nil {
		t.Fatalf("job at the limit: %v", err)
	}
}

func TestExecutorRejectsNilOp(t *testing.T) {
	exec := newTestExecutor(t)

	err := device.Run(context.Background(), exec, device.Kernel{Data: []float64{1}})
	if !errors.Is(err, device.ErrUnsupportedOp) {
		t.Fatalf("expected ErrUnsupportedOp, got %v", err)
	}
}

func TestExecutorWorkgroupCappedToRecommendation(t *testing.T) {
	exec := newTestExecutor(t)

	capped, err := NewExecutor(Config{Workgroup: exec.Workgroup() * 2})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if capped.Workgroup() != exec.Workgroup() {
		t.Errorf("workgroup = %d, want it capped to %d", capped.Workgroup(), exec.Workgroup())
	}
	if capped.maxElements != exec.maxElements {
		t.Errorf("max elements = %d, want %d", capped.maxElements, exec.maxElements)
	}
}
