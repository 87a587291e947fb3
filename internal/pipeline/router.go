package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"lostctl/internal/engine"
	"lostctl/internal/imageio"
	"lostctl/internal/metrics"
	"lostctl/internal/storage"
)

// Engine is the subset of engine.Client the router drives.
type Engine interface {
	Database(ctx context.Context, args *engine.Args) error
	Generate(ctx context.Context, args *engine.Args) (raw, annotated image.Image, err error)
	Identify(ctx context.Context, img image.Image, args *engine.Args) (engine.Attitude, error)
	IdentifyFile(ctx context.Context, path string, args *engine.Args) (engine.Attitude, error)
}

type imageDecoder interface {
	Decode(path string) (image.Image, error)
}

// RouterConfig wires a router to its collaborators.
type RouterConfig struct {
	Logger  *slog.Logger
	Engine  Engine
	Builder engine.Builder
	Decoder imageio.Decoder
	Store   *storage.Store
	Metrics *metrics.Metrics
	// DefaultVariant applies to jobs that leave Variant empty.
	DefaultVariant string
}

// router implements Processor and routes jobs to the engine operations.
type router struct {
	log            *slog.Logger
	eng            Engine
	builder        engine.Builder
	decoder        imageDecoder
	store          *storage.Store
	metrics        *metrics.Metrics
	defaultVariant string
}

// NewRouter returns the Processor that runs identify, generate and database
// jobs against the engine.
func NewRouter(cfg RouterConfig) Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		log:            logger,
		eng:            cfg.Engine,
		builder:        cfg.Builder,
		decoder:        cfg.Decoder,
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		defaultVariant: cfg.DefaultVariant,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobIdentify:
		return r.handleIdentify(ctx, job)
	case JobGenerate:
		return r.handleGenerate(ctx, job)
	case JobDatabase:
		return r.handleDatabase(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) variant(job Job) string {
	if job.Variant != "" {
		return job.Variant
	}
	return r.defaultVariant
}

func (r *router) handleIdentify(ctx context.Context, job Job) Result {
	variant, err := engine.ParseVariant(r.variant(job))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	args, err := r.builder.Identify(variant, job.Overrides)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	plotOutput := getStringOption(job.Options, "plotOutput")
	if plotOutput != "" {
		args = engine.WithPlotOutput(args)
	}

	var att engine.Attitude
	if imageio.IsPNG(job.InputPath) {
		att, err = r.eng.IdentifyFile(ctx, job.InputPath, args)
	} else {
		var img image.Image
		if img, err = r.decoder.Decode(job.InputPath); err != nil {
			return Result{Job: job, Error: err}
		}
		att, err = r.eng.Identify(ctx, img, args)
	}
	if err != nil {
		return Result{Job: job, Error: err}
	}

	meta := attitudeMeta(att)
	meta["variant"] = string(variant)
	if plotOutput != "" && att.Annotated != nil {
		if err := writePNG(plotOutput, att.Annotated); err != nil {
			return Result{Job: job, Error: err, Attitude: &att, Meta: meta}
		}
		meta["annotated"] = plotOutput
	}

	if r.store != nil {
		if err := r.store.RecordAttitude(storage.NewAttitudeRecord(job.ID, job.InputPath, string(variant), att)); err != nil {
			r.log.Warn("failed to record attitude", "job", job.ID, "error", err)
		}
	}
	if r.metrics != nil {
		r.metrics.ObserveAttitude(string(variant), att)
	}
	return Result{Job: job, Attitude: &att, Meta: meta}
}

func (r *router) handleGenerate(ctx context.Context, job Job) Result {
	opts := engine.DefaultGenerateOptions()
	if job.Variant != "" {
		opts.Type = engine.GenType(job.Variant)
	}
	if v, ok := job.Options["raw"].(bool); ok {
		opts.Raw = v
	}
	if v, ok := job.Options["annotated"].(bool); ok {
		opts.Annotated = v
	}
	args, err := r.builder.Generate(opts, job.Overrides)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	raw, annotated, err := r.eng.Generate(ctx, args)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	meta := map[string]any{"type": string(opts.Type)}
	outDir := job.Output
	if outDir == "" {
		outDir = "."
	}
	for _, out := range []struct {
		name string
		img  image.Image
	}{
		{"raw", raw},
		{"annotated", annotated},
	} {
		if out.img == nil {
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s-%s.png", job.ID, out.name))
		if err := writePNG(path, out.img); err != nil {
			return Result{Job: job, Error: err, Meta: meta}
		}
		meta[out.name] = path
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleDatabase(ctx context.Context, job Job) Result {
	variant, err := engine.ParseVariant(r.variant(job))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	args, err := r.builder.Database(variant, job.Overrides)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if err := r.eng.Database(ctx, args); err != nil {
		return Result{Job: job, Error: err}
	}
	out, _ := args.Get(engine.FlagOutput)
	return Result{Job: job, Meta: map[string]any{"variant": string(variant), "output": out.String()}}
}

func attitudeMeta(att engine.Attitude) map[string]any {
	meta := map[string]any{"identified": att.Identified()}
	for name, v := range att.Map() {
		meta[name] = v
	}
	return meta
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func getStringOption(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}
