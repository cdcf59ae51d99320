package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/openfluke/reactor/cpu"
	"github.com/openfluke/reactor/detector"
	"github.com/openfluke/reactor/device"
	"github.com/openfluke/reactor/gpu"
	"github.com/openfluke/reactor/metrics"
	"github.com/openfluke/reactor/reaction"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

var (
	appName = "reactor"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

// defaultReactions reproduces the classic demo: scale by 0.1, then add 2.
var defaultReactions = []string{"multiply=0.1", "add=2"}

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp(rootLogger).Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp(rootLogger *logrus.Logger) *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Usage = "apply elementwise reactions to a buffer on the CPU or GPU"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "executor",
			Value:  cpu.Name,
			EnvVar: "REACTOR_EXECUTOR",
			Usage:  "The executor to run kernels on. Supported values are 'cpu' and 'gpu'",
		},
		cli.IntFlag{
			Name:   "workers",
			Value:  runtime.NumCPU(),
			EnvVar: "REACTOR_WORKERS",
			Usage:  "The number of CPU executor workers",
		},
		cli.IntFlag{
			Name:   "size",
			Value:  32,
			EnvVar: "REACTOR_SIZE",
			Usage:  "The number of buffer elements; the buffer starts as 0, 1, ..., size-1",
		},
		cli.StringSliceFlag{
			Name:  "reaction",
			Usage: "A reaction as kind=param (e.g. multiply=0.1, add=2). May be repeated. Defaults to " + strings.Join(defaultReactions, ", "),
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "info",
			EnvVar: "REACTOR_LOG_LEVEL",
			Usage:  "The log level (debug, info, warn, error)",
		},
		cli.StringFlag{
			Name:   "metrics-addr",
			EnvVar: "REACTOR_METRICS_ADDR",
			Usage:  "If set, expose Prometheus metrics on this address and wait for a signal before exiting",
		},
	}
	app.Before = func(appCtx *cli.Context) error {
		lvl, err := logrus.ParseLevel(appCtx.GlobalString("log-level"))
		if err != nil {
			return err
		}
		rootLogger.SetLevel(lvl)
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "detect",
			Usage:  "Print the CPU and GPU capability report as JSON",
			Action: runDetect,
		},
	}
	app.Action = runMain
	return app
}

func runDetect(appCtx *cli.Context) error {
	out, err := detector.JSON(detector.Detect())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(appCtx.App.Writer, out)
	return err
}

func runMain(appCtx *cli.Context) error {
	defs := appCtx.StringSlice("reaction")
	if len(defs) == 0 {
		defs = defaultReactions
	}
	reactions, err := reaction.ParseAll(defs)
	if err != nil {
		return xerrors.Errorf("parsing reactions: %w", err)
	}

	collector, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	exec, closeFn, err := newExecutor(appCtx.String("executor"), appCtx.Int("workers"), collector)
	if err != nil {
		return err
	}
	defer closeFn()
	logger.WithFields(logrus.Fields{
		"executor": exec.Name(),
		"device":   deviceName(exec),
	}).Info("executor ready")

	if err := demo(context.Background(), appCtx.App.Writer, exec, reactions, appCtx.Int("size")); err != nil {
		return err
	}

	if addr := appCtx.String("metrics-addr"); addr != "" {
		return serveMetrics(addr)
	}
	return nil
}

func newExecutor(kind string, workers int, collector *metrics.Collector) (device.Executor, func(), error) {
	switch kind {
	case cpu.Name:
		exec, err := cpu.NewExecutor(cpu.Config{
			Workers: workers,
			Metrics: collector,
			Logger:  logger.WithField("executor", cpu.Name),
		})
		if err != nil {
			return nil, nil, err
		}
		return exec, func() { _ = exec.Close() }, nil
	case gpu.Name:
		exec, err := gpu.NewExecutor(gpu.Config{
			Metrics: collector,
			Logger:  logger.WithField("executor", gpu.Name),
		})
		if err != nil {
			return nil, nil, err
		}
		return exec, func() {}, nil
	default:
		return nil, nil, xerrors.Errorf("unsupported executor %q", kind)
	}
}

// demo reports the device, applies each reaction in turn printing the buffer
// after every step, then resets the buffer and replays the reactions as one
// set, again printing after every step.
func demo(ctx context.Context, w io.Writer, exec device.Executor, reactions reaction.Set, size int) error {
	if size < 0 {
		return xerrors.Errorf("invalid buffer size %d", size)
	}
	buf := make([]float64, size)
	reset := func() {
		for i := range buf {
			buf[i] = float64(i)
		}
	}

	_, _ = fmt.Fprintf(w, "Using %s\n", deviceName(exec))
	reset()
	printBuffer(w, buf)
	for _, r := range reactions {
		if err := r.React(ctx, exec, buf); err != nil {
			return err
		}
		printBuffer(w, buf)
	}

	reset()
	traced := make(reaction.Set, len(reactions))
	for i, r := range reactions {
		traced[i] = printing{Reactor: r, w: w}
	}
	return traced.React(ctx, exec, buf)
}

// printing prints the buffer after every successful React.
type printing struct {
	reaction.Reactor
	w io.Writer
}

func (p printing) React(ctx context.Context, exec device.Executor, buf []float64) error {
	if err := p.Reactor.React(ctx, exec, buf); err != nil {
		return err
	}
	printBuffer(p.w, buf)
	return nil
}

// describer is implemented by executors that can name the device they use.
type describer interface {
	Device() string
}

func deviceName(exec device.Executor) string {
	if d, ok := exec.(describer); ok {
		return d.Device()
	}
	return exec.Name()
}

func printBuffer(w io.Writer, buf []float64) {
	parts := make([]string, len(buf))
	for i, v := range buf {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	_, _ = fmt.Fprintln(w, strings.Join(parts, " "))
}

func serveMetrics(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(l) }()
	logger.WithField("addr", l.Addr().String()).Info("serving metrics; send SIGINT or SIGTERM to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return srv.Close()
}
