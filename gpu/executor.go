// Package gpu runs elementwise kernels on a WebGPU device.
//
// Every submission is self-contained: the buffer and the operation parameters
// are uploaded, a compute pipeline is compiled for the operation, one dispatch
// covers the whole buffer and the result is read back into the caller's slice.
// Nothing is cached between submissions.
//
// WGSL storage buffers hold f32, so values round-trip through single
// precision. Results match the CPU executor to about 7 significant digits.
// Elements or parameters that f32 cannot hold, and results that overflow it,
// fail the job with device.ErrOutOfRange instead of being clamped.
package gpu

import (
	"context"
	"io/ioutil"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/openfluke/reactor/detector"
	"github.com/openfluke/reactor/device"
	"github.com/openfluke/reactor/metrics"
	"github.com/openfluke/webgpu/wgpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Name identifies the GPU executor in logs, metrics and errors.
const Name = "gpu"

// Config encapsulates the settings for a GPU executor.
type Config struct {
	// The 1D workgroup size. If not specified, the size recommended for
	// the adapter limits is used. Larger values are capped to that
	// recommendation.
	Workgroup uint32

	// How long Wait polls for the readback buffer before giving up.
	// Defaults to 2 seconds.
	MapTimeout time.Duration

	// A clock instance for timing jobs. If not specified, the default
	// wall-clock will be used instead.
	Clock clock.Clock

	// Optional collectors for kernel metrics.
	Metrics *metrics.Collector

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Workgroup&(cfg.Workgroup-1) != 0 {
		err = multierror.Append(err, xerrors.Errorf("workgroup size must be a power of two"))
	}
	if cfg.MapTimeout < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for map timeout"))
	} else if cfg.MapTimeout == 0 {
		cfg.MapTimeout = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Executor submits kernels to the process-wide WebGPU device.
type Executor struct {
	cfg         Config
	gpu         *Context
	adapter     string
	workgroup   uint32
	maxElements uint64
}

// NewExecutor binds to the GPU context. It fails with an error wrapping
// device.ErrNoGPU when no adapter or device is available.
func NewExecutor(cfg Config) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("gpu executor: config validation failed: %w", err)
	}
	c, err := GetContext(cfg.Logger)
	if err != nil {
		return nil, xerrors.Errorf("gpu executor: %w", err)
	}

	limits := detector.LimitsOf(c.Adapter.GetLimits())
	rec := detector.Recommend(limits)
	wg, maxElements := rec.WorkgroupX, rec.MaxElements
	switch {
	case cfg.Workgroup == 0:
	case cfg.Workgroup < wg:
		wg = cfg.Workgroup
		maxElements = min(uint64(wg)*uint64(limits.MaxComputeWorkgroupsPerDimension), limits.MaxStorageBufferBindingSize/4)
	case cfg.Workgroup > wg:
		cfg.Logger.WithFields(logrus.Fields{
			"requested": cfg.Workgroup,
			"workgroup": wg,
		}).Warn("workgroup size capped to adapter recommendation")
	}

	cfg.Logger.WithFields(logrus.Fields{
		"workgroup":    wg,
		"max_elements": maxElements,
	}).Debug("gpu executor ready")

	return &Executor{
		cfg:         cfg,
		gpu:         c,
		adapter:     strings.TrimSpace(c.Adapter.GetInfo().Name),
		workgroup:   wg,
		maxElements: maxElements,
	}, nil
}

// Name implements device.Executor.
func (e *Executor) Name() string { return Name }

// Device returns the name of the adapter jobs run on.
func (e *Executor) Device() string { return e.adapter }

// Workgroup returns the workgroup size used for dispatches.
func (e *Executor) Workgroup() uint32 { return e.workgroup }

// Submit implements device.Executor. The command buffer is submitted before
// Submit returns; the returned event performs the readback. The caller must
// call Wait, which releases the device resources of the job, and must not
// touch k.Data until Wait has returned.
func (e *Executor) Submit(ctx context.Context, k device.Kernel) device.Event {
	if err := ctx.Err(); err != nil {
		return device.Done{Err: err}
	}
	if k.Op == nil {
		return device.Done{Err: xerrors.Errorf("kernel has no operation: %w", device.ErrUnsupportedOp)}
	}
	n := k.Len()
	if n == 0 {
		return device.Done{}
	}
	if uint64(n) > e.maxElements {
		return device.Done{Err: xerrors.Errorf("%d elements: %w", n, device.ErrBufferTooLarge)}
	}

	src, params, err := kernelFor(k.Op, n, e.workgroup)
	if err != nil {
		return device.Done{Err: err}
	}
	upload, err := toFloat32(k.Data)
	if err != nil {
		return device.Done{Err: err}
	}

	j := &job{
		exec:   e,
		id:     uuid.New().String(),
		op:     k.Op.Name(),
		data:   k.Data,
		start:  e.cfg.Clock.Now(),
		logger: e.cfg.Logger,
	}
	if err := j.launch(src, params, upload); err != nil {
		j.release()
		j.finish(err)
		return device.Done{Err: err}
	}
	return j
}

// job is a submitted dispatch awaiting readback.
type job struct {
	exec   *Executor
	id     string
	op     string
	data   []float64
	start  time.Time
	logger *logrus.Entry

	io, uniform, staging *wgpu.Buffer

	waitOnce sync.Once
	err      error
}

func (j *job) launch(src string, params kernelParams, upload []float32) error {
	c := j.exec.gpu
	label := "reactor_" + j.op
	sizeBytes := uint64(len(j.data) * 4)

	var err error
	if j.io, err = newStorageBuffer(c, label+"_IO", upload); err != nil {
		return err
	}
	if j.uniform, err = newUniformBuffer(c, label+"_Params", params.bytes()); err != nil {
		return err
	}
	if j.staging, err = newStagingBuffer(c, label+"_Staging", sizeBytes); err != nil {
		return err
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
	})
	if err != nil {
		return xerrors.Errorf("compile shader: %w", err)
	}
	defer module.Release()

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return xerrors.Errorf("create pipeline: %w", err)
	}
	defer pipeline.Release()

	bindGroup, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + "_Bind",
		Layout: pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: j.io, Size: j.io.GetSize()},
			{Binding: 1, Buffer: j.uniform, Size: j.uniform.GetSize()},
		},
	})
	if err != nil {
		return xerrors.Errorf("create bind group: %w", err)
	}
	defer bindGroup.Release()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return xerrors.Errorf("create command encoder: %w", err)
	}
	defer enc.Release()

	groups := (uint32(len(j.data)) + j.exec.workgroup - 1) / j.exec.workgroup
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()

	enc.CopyBufferToBuffer(j.io, 0, j.staging, 0, sizeBytes)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return xerrors.Errorf("finish command encoder: %w", err)
	}
	c.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

// Wait implements device.Event. It is safe to call more than once.
func (j *job) Wait() error {
	j.waitOnce.Do(func() {
		defer j.release()
		res, err := readStaging(j.exec.gpu, j.exec.cfg.Clock, j.staging, len(j.data), j.exec.cfg.MapTimeout)
		if err == nil {
			err = widen(j.data, res)
		}
		j.finish(err)
		j.err = err
	})
	return j.err
}

func (j *job) finish(err error) {
	took := j.exec.cfg.Clock.Now().Sub(j.start)
	j.exec.cfg.Metrics.Observe(Name, j.op, len(j.data), took, err)
	logger := j.logger.WithFields(logrus.Fields{
		"job":  j.id,
		"op":   j.op,
		"n":    len(j.data),
		"took": took.String(),
	})
	if err != nil {
		logger.WithField("err", err).Error("kernel failed")
		return
	}
	logger.Debug("kernel complete")
}

func (j *job) release() {
	for _, b := range []*wgpu.Buffer{j.io, j.uniform, j.staging} {
		if b != nil {
			b.Destroy()
		}
	}
}
