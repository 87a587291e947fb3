package engine

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Record describes one finished engine invocation, for observers such as
// metrics and history storage.
type Record struct {
	ID        string
	Operation Operation
	Args      []string
	Status    ExitStatus
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// Observer receives a Record after every invocation, successful or not.
type Observer interface {
	ObserveInvocation(rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Record)

func (f ObserverFunc) ObserveInvocation(rec Record) { f(rec) }

// Options configures a Client.
type Options struct {
	EnginePath string
	// HomeDir is the engine's working directory; defaults to the directory
	// holding EnginePath.
	HomeDir string
	// TempRoot holds the per-invocation exchange directories.
	TempRoot string
	// Timeout bounds every call whose context carries no deadline. Zero
	// means no limit.
	Timeout   time.Duration
	DebugArgs bool
	Logger    *slog.Logger
	// Invoker replaces the process invoker, mainly for tests.
	Invoker   Invoker
	Observers []Observer
}

// Client exposes the database, generate and identify operations. It is safe
// for concurrent use.
type Client struct {
	invoker   Invoker
	homeDir   string
	tempRoot  string
	timeout   time.Duration
	log       *slog.Logger
	observers []Observer
}

// New builds a Client from opts.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	home := opts.HomeDir
	if home == "" && opts.EnginePath != "" {
		home = filepath.Dir(opts.EnginePath)
	}
	inv := opts.Invoker
	if inv == nil {
		inv = &ProcessInvoker{Path: opts.EnginePath, DebugArgs: opts.DebugArgs, Log: log}
	}
	return &Client{
		invoker:   inv,
		homeDir:   home,
		tempRoot:  opts.TempRoot,
		timeout:   opts.Timeout,
		log:       log,
		observers: opts.Observers,
	}
}

// Database builds a star database at the path given by --output. The artifact
// is overwritten in place; callers must not run Database and Identify against
// the same database path at the same time.
// A relative --output is taken from the engine home directory, as the engine
// sees it; its parent directory is created before the run.
func (c *Client) Database(ctx context.Context, args *Args) error {
	prepare := func(_ *Exchange, args *Args) error {
		if v, ok := args.Get(FlagOutput); ok && v.Kind() == KindString && v.String() != "" {
			if err := os.MkdirAll(filepath.Dir(v.String()), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
		}
		return nil
	}
	return c.run(ctx, OpDatabase, args, prepare, func(_ *Exchange, args *Args) error {
		if v, ok := args.Get(FlagOutput); ok && !v.IsFlag() {
			if !fileExists(v.String()) {
				return &MissingOutputError{Role: RoleDatabase, Path: v.String(), Err: errNotWritten}
			}
		}
		return nil
	})
}

// Generate renders simulated images. Each returned image is nil unless its
// flag (--plot-raw-input, --plot-input) is present in args.
func (c *Client) Generate(ctx context.Context, args *Args) (raw, annotated image.Image, err error) {
	err = c.run(ctx, OpGenerate, args, nil, func(ex *Exchange, args *Args) error {
		var err error
		if raw, err = readImageOutput(ex, args, FlagPlotRawInput, RoleRawInput); err != nil {
			return err
		}
		annotated, err = readImageOutput(ex, args, FlagPlotInput, RoleAnnotatedInput)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return raw, annotated, nil
}

// Identify runs star identification on img and returns the parsed attitude.
// When --png names a literal path instead of the exchange file, img must be
// nil and the engine reads that file directly.
func (c *Client) Identify(ctx context.Context, img image.Image, args *Args) (Attitude, error) {
	png, ok := args.Get(FlagPNG)
	switch {
	case !ok:
		return Attitude{}, configErrorf("identify requires %s", FlagPNG)
	case png.Kind() == KindExchange && img == nil:
		return Attitude{}, configErrorf("identify: no image given for %s", FlagPNG)
	case png.Kind() != KindExchange && img != nil:
		return Attitude{}, configErrorf("identify: image given but %s points to %s", FlagPNG, png.String())
	}
	if v, ok := args.Get(FlagPrintAttitude); !ok || v.IsFlag() {
		return Attitude{}, configErrorf("identify requires %s <path>", FlagPrintAttitude)
	}

	var att Attitude
	prepare := func(ex *Exchange, _ *Args) error {
		if img == nil {
			return nil
		}
		return ex.WriteInput(img)
	}
	err := c.run(ctx, OpIdentify, args, prepare, func(ex *Exchange, args *Args) error {
		text, err := readTextOutput(ex, args, FlagPrintAttitude, RoleAttitude)
		if err != nil {
			return err
		}
		if att, err = ParseAttitude(text); err != nil {
			return err
		}
		if img != nil {
			_ = ex.Cleanup(RoleRawInput)
		}
		att.Annotated, err = readImageOutput(ex, args, FlagPlotOutput, RoleAnnotatedOutput)
		return err
	})
	if err != nil {
		return Attitude{}, err
	}
	return att, nil
}

// IdentifyFile identifies an image already on disk without decoding it.
func (c *Client) IdentifyFile(ctx context.Context, path string, args *Args) (Attitude, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Attitude{}, err
	}
	return c.Identify(ctx, nil, args.Merge(NewArgs(Entry{FlagPNG, Str(abs)})))
}

// run invokes the engine for op. Relative paths in args are anchored to the
// engine home directory first; prepare and collect see the anchored args with
// exchange references still unresolved.
func (c *Client) run(ctx context.Context, op Operation, args *Args, prepare, collect func(*Exchange, *Args) error) (err error) {
	rec := Record{ID: uuid.NewString(), Operation: op, Started: time.Now()}
	defer func() {
		rec.Duration = time.Since(rec.Started)
		rec.Err = err
		for _, o := range c.observers {
			o.ObserveInvocation(rec)
		}
	}()

	ex, err := NewExchange(c.tempRoot)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ex.Close(); cerr != nil {
			c.log.Warn("failed to remove exchange directory", "dir", ex.Dir(), "error", cerr)
		}
	}()

	args = args.Anchor(c.homeDir, pathFlags...)
	rec.Args = Flatten(args.Resolve(ex))

	if prepare != nil {
		if err := prepare(ex, args); err != nil {
			return err
		}
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.log.Debug("engine invocation", "id", rec.ID, "operation", op, "exchange", ex.Dir(), "args", rec.Args)
	status, err := c.invoker.Invoke(ctx, Invocation{Args: rec.Args, Dir: c.homeDir})
	rec.Status = status
	if err != nil {
		return err
	}
	if !status.Success() {
		return &EngineFailure{Operation: string(op), Status: status}
	}
	return collect(ex, args)
}
