package gpu

import (
	"fmt"
	"math"

	"github.com/openfluke/reactor/device"
	"github.com/openfluke/webgpu/wgpu"
	"golang.org/x/xerrors"
)

// kernelParams mirrors the Params uniform struct in the generated shader.
type kernelParams struct {
	A float32
	B float32
	N uint32
}

func (p kernelParams) bytes() []byte {
	// Uniform buffers are padded to 16 bytes.
	return wgpu.ToBytes([]uint32{math.Float32bits(p.A), math.Float32bits(p.B), p.N, 0})
}

// kernelFor returns the WGSL source and uniform contents for op over n
// elements. Only the operations known to this package can be compiled for the
// device; anything else yields device.ErrUnsupportedOp.
func kernelFor(op device.Op, n int, workgroup uint32) (string, kernelParams, error) {
	var (
		expr   string
		params = kernelParams{N: uint32(n)}
	)
	switch op := op.(type) {
	case device.Multiply:
		if math.IsInf(op.A, 0) || !fitsFloat32(op.A) {
			return "", kernelParams{}, xerrors.Errorf("factor %v: %w", op.A, device.ErrOutOfRange)
		}
		expr = "io[idx] * params.a"
		params.A = float32(op.A)
	case device.Add:
		// Integers past 2^24 are not all representable in f32.
		if float64(float32(op.B)) != float64(op.B) {
			return "", kernelParams{}, xerrors.Errorf("addend %d: %w", op.B, device.ErrOutOfRange)
		}
		expr = "io[idx] + params.b"
		params.B = float32(op.B)
	default:
		return "", kernelParams{}, xerrors.Errorf("gpu has no kernel for %q: %w", op.Name(), device.ErrUnsupportedOp)
	}
	return generateShader(expr, workgroup), params, nil
}

func generateShader(expr string, workgroup uint32) string {
	return fmt.Sprintf(`
		struct Params {
			a : f32,
			b : f32,
			n : u32,
			_pad : u32,
		};

		@group(0) @binding(0) var<storage, read_write> io : array<f32>;
		@group(0) @binding(1) var<uniform> params : Params;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			if (idx >= params.n) { return; }
			io[idx] = %s;
		}
	`, workgroup, expr)
}
