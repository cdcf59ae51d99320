package gpu

import (
	"math"
	"time"

	"github.com/juju/clock"
	"github.com/openfluke/reactor/device"
	"github.com/openfluke/webgpu/wgpu"
	"golang.org/x/xerrors"
)

// fitsFloat32 reports whether v survives narrowing without overflowing to
// infinity or flushing to zero. Precision loss is accepted.
func fitsFloat32(v float64) bool {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return true
	}
	f := float32(v)
	return !math.IsInf(float64(f), 0) && (f != 0 || v == 0)
}

// toFloat32 narrows the caller's buffer for upload. WGSL storage buffers
// have no f64 type.
func toFloat32(src []float64) ([]float32, error) {
	out := make([]float32, len(src))
	for i, v := range src {
		if !fitsFloat32(v) {
			return nil, xerrors.Errorf("element %d (%v): %w", i, v, device.ErrOutOfRange)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// widen copies device results into dst. A finite element that comes back
// infinite overflowed on the device; dst is then left untouched.
func widen(dst []float64, res []float32) error {
	for i, v := range res {
		if math.IsInf(float64(v), 0) && !math.IsInf(dst[i], 0) {
			return xerrors.Errorf("element %d overflowed: %w", i, device.ErrOutOfRange)
		}
	}
	for i, v := range res {
		dst[i] = float64(v)
	}
	return nil
}

// newStorageBuffer uploads data into a read-write storage buffer that can
// also be copied out for readback.
func newStorageBuffer(c *Context, label string, data []float32) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(data),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create storage buffer: %w", err)
	}
	return buf, nil
}

// newUniformBuffer uploads the kernel parameters.
func newUniformBuffer(c *Context, label string, contents []byte) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create uniform buffer: %w", err)
	}
	return buf, nil
}

// newStagingBuffer allocates a host-mappable buffer of the given size.
func newStagingBuffer(c *Context, label string, sizeBytes uint64) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create staging buffer: %w", err)
	}
	return buf, nil
}

// readStaging maps a staging buffer holding n float32 values and copies them
// out. It polls the device until the map completes or timeout elapses.
func readStaging(c *Context, clk clock.Clock, staging *wgpu.Buffer, n int, timeout time.Duration) ([]float32, error) {
	sizeBytes := uint64(n * 4)

	done := make(chan struct{})
	var mapErr error
	err := staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = xerrors.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, xerrors.Errorf("MapAsync failed: %w", err)
	}

	poll := func() { c.Device.Poll(false, nil) }
	if err := awaitMap(poll, done, clk.After(timeout)); err != nil {
		return nil, xerrors.Errorf("readback timed out after %s: %w", timeout, err)
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := staging.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, xerrors.New("failed to get mapped range")
	}
	out := make([]float32, n)
	copy(out, wgpu.FromBytes[float32](data))
	staging.Unmap()
	return out, nil
}

// errMapPending is returned by awaitMap when the deadline passes first.
var errMapPending = xerrors.New("buffer map still pending")

// awaitMap drives poll until done is closed or expired fires.
func awaitMap(poll func(), done <-chan struct{}, expired <-chan time.Time) error {
	for {
		poll()
		select {
		case <-done:
			return nil
		case <-expired:
			return errMapPending
		default:
			time.Sleep(100 * time.Microsecond)
		}
	}
}
