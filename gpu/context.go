package gpu

import (
	"io/ioutil"
	"sync"

	"github.com/openfluke/reactor/device"
	"github.com/openfluke/webgpu/wgpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	once    sync.Once
	initErr error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it on first use.
// Initialization is attempted once; a failure is sticky and wraps
// device.ErrNoGPU.
func GetContext(logger *logrus.Entry) (*Context, error) {
	if logger == nil {
		logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	ctx.once.Do(func() { ctx.initErr = ctx.init(logger) })
	if ctx.initErr != nil {
		return nil, ctx.initErr
	}
	return &ctx, nil
}

func (c *Context) init(logger *logrus.Entry) error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return xerrors.Errorf("failed to create WebGPU instance: %w", device.ErrNoGPU)
	}

	// Try high performance, then low power, then whatever the default is.
	var lastErr error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		adapter, err := c.Instance.RequestAdapter(opts)
		if err == nil && adapter != nil {
			c.Adapter = adapter
			break
		}
		lastErr = err
		logger.WithField("err", err).Debug("adapter request failed, falling back")
	}
	if c.Adapter == nil {
		c.Instance.Release()
		return xerrors.Errorf("all adapter attempts failed (%v): %w", lastErr, device.ErrNoGPU)
	}

	info := c.Adapter.GetInfo()
	logger.WithFields(logrus.Fields{
		"adapter": info.Name,
		"vendor":  info.VendorName,
		"backend": info.BackendType.String(),
	}).Info("using GPU adapter")

	dev, err := c.Adapter.RequestDevice(nil)
	if err != nil || dev == nil {
		c.Adapter.Release()
		c.Instance.Release()
		return xerrors.Errorf("request device (%v): %w", err, device.ErrNoGPU)
	}
	c.Device = dev
	c.Queue = dev.GetQueue()
	return nil
}
