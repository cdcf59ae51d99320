package cpu

import (
	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/openfluke/reactor/device"
)

// splatBlock bounds the scratch vector used by the Add kernel.
const splatBlock = 256

// chunkKernel processes data[start:end] for one worker.
type chunkKernel func(data []float64, start, end int)

// kernelFor returns the chunk kernel for op. Multiply and Add map onto the
// SIMD block routines; any other Op falls back to calling Apply per element.
func kernelFor(op device.Op) chunkKernel {
	switch op := op.(type) {
	case device.Multiply:
		a := op.A
		return func(data []float64, start, end int) {
			chunk := data[start:end]
			vecmath.ScaleBlock(chunk, chunk, a)
		}
	case device.Add:
		b := float64(op.B)
		return func(data []float64, start, end int) {
			var splat [splatBlock]float64
			for i := range splat {
				splat[i] = b
			}
			for i := start; i < end; i += splatBlock {
				m := min(splatBlock, end-i)
				vecmath.AddBlockInPlace(data[i:i+m], splat[:m])
			}
		}
	default:
		return func(data []float64, start, end int) {
			for i := start; i < end; i++ {
				op.Apply(&data[i])
			}
		}
	}
}
