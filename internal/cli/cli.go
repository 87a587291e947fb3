package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lostctl/internal/config"
	"lostctl/internal/engine"
	"lostctl/internal/fsutil"
	"lostctl/internal/imageio"
	"lostctl/internal/logging"
	"lostctl/internal/metrics"
	"lostctl/internal/pipeline"
	"lostctl/internal/storage"
	"lostctl/internal/watcher"
)

// Version is overridden at build time with -ldflags "-X lostctl/internal/cli.Version=...".
var Version = "0.1.0-dev"

type engineFactory func(cfg *config.Config, log *slog.Logger, observers []engine.Observer) pipeline.Engine

type statusFunc func(ctx context.Context, path string) engine.Status

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

func defaultEngine(cfg *config.Config, log *slog.Logger, observers []engine.Observer) pipeline.Engine {
	path := cfg.Engine.Path
	if path == "" {
		if resolved, err := engine.Locate(""); err == nil {
			path = resolved
		} else {
			path = engine.DefaultBinary
		}
	}
	return engine.New(engine.Options{
		EnginePath: path,
		HomeDir:    cfg.Engine.HomeDir,
		TempRoot:   cfg.Engine.TempRoot,
		Timeout:    cfg.Engine.Timeout(),
		DebugArgs:  cfg.Engine.DebugArgs,
		Logger:     log,
		Observers:  observers,
	})
}

// Root wires CLI commands to the engine, the job pipeline and the history
// store.
type Root struct {
	cfg           *config.Config
	log           *slog.Logger
	store         *storage.Store
	metrics       *metrics.Metrics
	engineFactory engineFactory
	statusFn      statusFunc
	serveFn       serverFunc
}

// NewRoot constructs the CLI root. store and m may be nil.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store, m *metrics.Metrics) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		cfg:           cfg,
		log:           logger,
		store:         store,
		metrics:       m,
		engineFactory: defaultEngine,
		statusFn:      engine.Check,
		serveFn:       defaultServe,
	}
}

func (r *Root) newEngine() pipeline.Engine {
	observers := []engine.Observer{logging.Observer(r.log)}
	if r.store != nil {
		observers = append(observers, r.store)
	}
	if r.metrics != nil {
		observers = append(observers, r.metrics)
	}
	return r.engineFactory(r.cfg, r.log, observers)
}

func (r *Root) builder() engine.Builder {
	return engine.Builder{
		PyDatabase:    r.cfg.Databases.PyPath(),
		TetraDatabase: r.cfg.Databases.TetraPath(),
	}
}

func (r *Root) decoder() imageio.Decoder {
	return imageio.Decoder{UseMagick: r.cfg.Processing.UseMagick}
}

func (r *Root) newPipeline(ctx context.Context) *pipeline.Pipeline {
	router := pipeline.NewRouter(pipeline.RouterConfig{
		Logger:         r.log,
		Engine:         r.newEngine(),
		Builder:        r.builder(),
		Decoder:        r.decoder(),
		Store:          r.store,
		Metrics:        r.metrics,
		DefaultVariant: r.cfg.Processing.Variant,
	})
	return pipeline.New(ctx, router, pipeline.Options{
		Concurrency: r.cfg.Processing.ParallelJobs,
		Logger:      r.log,
		Store:       r.store,
		Metrics:     r.metrics,
	})
}

// runJobs runs jobs on a short-lived pipeline and returns their results in
// order.
func (r *Root) runJobs(ctx context.Context, jobs []pipeline.Job) []pipeline.Result {
	p := r.newPipeline(ctx)
	defer p.Stop()
	return p.RunAll(ctx, jobs)
}

func (r *Root) engineStatus(ctx context.Context) engine.Status {
	st := r.statusFn(ctx, r.cfg.Engine.Path)
	logging.LogEngineStatus(r.log, st)
	if r.metrics != nil {
		r.metrics.SetEngineStatus(st)
	}
	return st
}

// acceptFrame reports whether a watched file should be identified.
func (r *Root) acceptFrame(path string) bool {
	dec := r.decoder()
	if !dec.Supported(path) {
		return false
	}
	exts := r.cfg.Watch.Extensions
	return len(exts) == 0 || fsutil.HasExtension(path, exts)
}

// startWatcher identifies every frame that settles in dirs until ctx is done.
// The returned function stops the watcher.
func (r *Root) startWatcher(ctx context.Context, p *pipeline.Pipeline, dirs []string, variant string) (func(), error) {
	w, err := watcher.New(watcher.Options{
		Directories: dirs,
		Accept:      r.acceptFrame,
		Settle:      settleDelay(r.cfg.Watch.SettleMillis),
		Logger:      r.log,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return nil, err
	}
	go watcher.Forward(ctx, w.Events, func(ctx context.Context, ev watcher.Event) error {
		return p.Enqueue(ctx, pipeline.Job{
			ID:        newID("watch"),
			Type:      pipeline.JobIdentify,
			InputPath: ev.Path,
			Variant:   variant,
			Options:   map[string]any{"source": "watch"},
		})
	}, r.log)
	return func() { w.Stop() }, nil
}

// parseSets turns repeated "flag=value" settings into engine overrides. The
// leading dashes are optional; a setting without "=" is a bare flag.
func parseSets(sets []string) (*engine.Args, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	args := engine.NewArgs()
	for _, s := range sets {
		name, value, _ := strings.Cut(s, "=")
		name = strings.TrimLeft(strings.TrimSpace(name), "-")
		if name == "" {
			return nil, fmt.Errorf("invalid --set %q: missing flag name", s)
		}
		args.Set("--"+name, engine.ParseValue(value))
	}
	return args, nil
}

func settleDelay(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes one job outcome to stdout.
func printResult(res pipeline.Result, jsonOut bool) {
	if jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(res.View())
		return
	}
	label := res.Job.InputPath
	if label == "" {
		label = res.Job.ID
	}
	switch {
	case res.Error != nil:
		fmt.Printf("%s: error: %v\n", label, res.Error)
	case res.Attitude != nil && res.Attitude.Identified():
		ra, _ := res.Attitude.Value(engine.FieldRA)
		de, _ := res.Attitude.Value(engine.FieldDe)
		roll, _ := res.Attitude.Value(engine.FieldRoll)
		fmt.Printf("%s: ra=%.6f de=%.6f roll=%.6f (%s)\n", label, ra, de, roll, res.Duration.Round(time.Millisecond))
	case res.Attitude != nil:
		fmt.Printf("%s: not identified (%s)\n", label, res.Duration.Round(time.Millisecond))
	default:
		fmt.Printf("%s: done (%s)\n", label, res.Duration.Round(time.Millisecond))
		for _, k := range sortedKeys(res.Meta) {
			fmt.Printf("  %s: %v\n", k, res.Meta[k])
		}
	}
}

func printSummary(s pipeline.Summary) {
	fmt.Printf("\nSummary: %d images, %d identified, %d not identified, %d failed\n",
		s.Total, s.Identified, s.Unknown, s.Failed)
	if s.Identified == 0 {
		return
	}
	for _, axis := range []struct {
		name string
		st   pipeline.AxisStats
	}{
		{"ra", s.RA},
		{"de", s.De},
		{"roll", s.Roll},
	} {
		fmt.Printf("  %-4s mean=%.6f std=%.6f", axis.name, axis.st.Mean, axis.st.StdDev)
		if s.Expected != nil {
			fmt.Printf(" mean_abs_err=%.6f max_abs_err=%.6f", axis.st.MeanAbsError, axis.st.MaxAbsError)
		}
		fmt.Println()
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
