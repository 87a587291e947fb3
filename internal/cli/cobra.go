package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"lostctl/internal/config"
	"lostctl/internal/engine"
	"lostctl/internal/fsutil"
	"lostctl/internal/grpcserver"
	"lostctl/internal/metrics"
	"lostctl/internal/pipeline"
	"lostctl/internal/server"
	"lostctl/internal/storage"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, m *metrics.Metrics) *cobra.Command {
	return newRootCmd(NewRoot(cfg, log, store, m))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lostctl",
		Short: "lostctl drives the LOST star tracker",
		Long: `lostctl runs the LOST star-tracker engine: it builds star databases,
generates synthetic star fields and identifies the attitude of star images,
one at a time, in batches, from watched directories or over HTTP.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newDatabaseCmd(root))
	rootCmd.AddCommand(newGenerateCmd(root))
	rootCmd.AddCommand(newIdentifyCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newEngineCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newDatabaseCmd(root *Root) *cobra.Command {
	var (
		variant string
		sets    []string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "database",
		Short: "Build the star database for an identification algorithm",
		Long: `Build the star database used by the pyramidal (py) or tetra algorithm.
The database is written to the path configured for the variant unless
overridden with --set output=<path>. A relative path is taken from the engine
home directory, where the engine runs.

Examples:
  lostctl database --variant py
  lostctl database --variant tetra --set max-stars=10000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			res := root.runJobs(cmd.Context(), []pipeline.Job{{
				ID:        newID("db"),
				Type:      pipeline.JobDatabase,
				Variant:   variant,
				Overrides: overrides,
			}})[0]
			printResult(res, jsonOut)
			return res.Error
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "algorithm the database is for (py|tetra), config default if empty")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "override an engine flag as name=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

func newGenerateCmd(root *Root) *cobra.Command {
	var (
		genType   string
		output    string
		raw       bool
		annotated bool
		sets      []string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic star field image",
		Long: `Generate a synthetic star field with the engine and save the raw and
annotated renderings as PNG files.

Examples:
  lostctl generate --output frames/
  lostctl generate --type oresat --annotated=false --set ra=88 --set de=7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !raw && !annotated {
				return errors.New("nothing to generate: both --raw and --annotated are disabled")
			}
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			res := root.runJobs(cmd.Context(), []pipeline.Job{{
				ID:        newID("gen"),
				Type:      pipeline.JobGenerate,
				Output:    output,
				Variant:   genType,
				Overrides: overrides,
				Options:   map[string]any{"raw": raw, "annotated": annotated, "source": "cli"},
			}})[0]
			printResult(res, jsonOut)
			return res.Error
		},
	}

	cmd.Flags().StringVar(&genType, "type", string(engine.GenDefault), "generation preset (default|oresat)")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "directory receiving the PNG files")
	cmd.Flags().BoolVar(&raw, "raw", true, "save the raw rendering")
	cmd.Flags().BoolVar(&annotated, "annotated", true, "save the annotated rendering")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "override an engine flag as name=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

func newIdentifyCmd(root *Root) *cobra.Command {
	var (
		variant    string
		plotOutput string
		sets       []string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "identify <image>...",
		Short: "Identify the attitude of star images",
		Long: `Identify the attitude (right ascension, declination, roll) of one or more
star images. PNG files go to the engine directly; TIFF, JPEG, BMP and GIF
frames are decoded first.

Examples:
  lostctl identify frame.png
  lostctl identify --variant tetra --set fov=17 frames/*.png
  lostctl identify --plot-output annotated.png frame.tif`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if plotOutput != "" && len(args) > 1 {
				return errors.New("--plot-output needs exactly one image")
			}
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}

			jobs := make([]pipeline.Job, 0, len(args))
			for _, path := range args {
				if abs, err := filepath.Abs(path); err == nil {
					path = abs
				}
				job := pipeline.Job{
					ID:        newID("id"),
					Type:      pipeline.JobIdentify,
					InputPath: path,
					Variant:   variant,
					Overrides: overrides,
					Options:   map[string]any{"source": "cli"},
				}
				if plotOutput != "" {
					job.Options["plotOutput"] = plotOutput
				}
				jobs = append(jobs, job)
			}

			failed := 0
			for _, res := range root.runJobs(cmd.Context(), jobs) {
				printResult(res, jsonOut)
				if res.Error != nil {
					failed++
				}
			}
			if failed > 0 {
				if len(jobs) == 1 {
					return fmt.Errorf("identify %s failed", jobs[0].InputPath)
				}
				return fmt.Errorf("%d of %d images failed", failed, len(jobs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "star-id algorithm (py|tetra), config default if empty")
	cmd.Flags().StringVar(&plotOutput, "plot-output", "", "also save the engine's annotated image to this path")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "override an engine flag as name=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON lines")
	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		variant    string
		recursive  bool
		sets       []string
		jsonOut    bool
		expectRA   float64
		expectDe   float64
		expectRoll float64
	)

	cmd := &cobra.Command{
		Use:   "batch <directory>",
		Short: "Identify every image in a directory and summarise the attitudes",
		Long: `Identify every supported image in a directory with the configured number
of parallel jobs, then print the mean and spread of the attitudes. Give the
expected boresight to measure the error of each axis.

Examples:
  lostctl batch frames/
  lostctl batch frames/ --expect-ra 88.5 --expect-de 7.25 --expect-roll 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			dec := root.decoder()
			images, err := fsutil.ListImages(dir, recursive, dec.Supported)
			if err != nil {
				return err
			}
			if len(images) == 0 {
				return fmt.Errorf("no supported images in %s", dir)
			}

			var expected *pipeline.Boresight
			flags := cmd.Flags()
			if flags.Changed("expect-ra") || flags.Changed("expect-de") || flags.Changed("expect-roll") {
				expected = &pipeline.Boresight{RA: expectRA, De: expectDe, Roll: expectRoll}
			}

			batchID := newID("batch")
			jobs := make([]pipeline.Job, len(images))
			for i, path := range images {
				jobs[i] = pipeline.Job{
					ID:        fmt.Sprintf("%s-%04d", batchID, i),
					Type:      pipeline.JobIdentify,
					InputPath: path,
					Variant:   variant,
					Overrides: overrides,
					Options:   map[string]any{"source": "batch", "batch": batchID},
				}
			}
			root.log.Info("batch started", "dir", dir, "images", len(images), "batch", batchID)

			results := root.runJobs(cmd.Context(), jobs)
			summary := pipeline.Summarize(results, expected)
			if jsonOut {
				views := make([]pipeline.ResultView, len(results))
				for i, res := range results {
					views[i] = res.View()
				}
				return printJSON(map[string]any{"results": views, "summary": summary})
			}
			for _, res := range results {
				printResult(res, false)
			}
			printSummary(summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "star-id algorithm (py|tetra), config default if empty")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "override an engine flag as name=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results and summary as JSON")
	cmd.Flags().Float64Var(&expectRA, "expect-ra", 0, "expected right ascension in degrees")
	cmd.Flags().Float64Var(&expectDe, "expect-de", 0, "expected declination in degrees")
	cmd.Flags().Float64Var(&expectRoll, "expect-roll", 0, "expected roll in degrees")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		variant string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "watch [directory...]",
		Short: "Identify images as they arrive in directories",
		Long: `Watch directories and identify every new image once it has stopped
changing. Directories default to watch.directories from the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dirs := args
			if len(dirs) == 0 {
				dirs = root.cfg.Watch.Directories
			}
			if len(dirs) == 0 {
				return errors.New("no directories to watch: pass them as arguments or set watch.directories")
			}

			p := root.newPipeline(ctx)
			defer p.Stop()
			results, unsubscribe := p.Subscribe()
			defer unsubscribe()

			stop, err := root.startWatcher(ctx, p, dirs, variant)
			if err != nil {
				return err
			}
			defer stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case res, ok := <-results:
					if !ok {
						return nil
					}
					printResult(res, jsonOut)
				}
			}
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "star-id algorithm (py|tetra), config default if empty")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON lines")
	return cmd
}

type serveOptions struct {
	HTTPAddr string
	GRPCAddr string
	Watch    bool
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, result stream and gRPC health service",
		Long: `Start the HTTP API (identify, generate, database, history, metrics and a
websocket result stream) and the gRPC health service that tracks engine
availability. With --watch the configured directories are identified as
frames arrive and their results are streamed as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http", root.cfg.Server.HTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc", root.cfg.Server.GRPCAddr, "gRPC listen address, empty disables gRPC")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "also identify frames from watch.directories")
	return cmd
}

func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := r.newPipeline(ctx)
	defer p.Stop()

	if opts.Watch {
		stop, err := r.startWatcher(ctx, p, r.cfg.Watch.Directories, "")
		if err != nil {
			return err
		}
		defer stop()
	}

	status := func(ctx context.Context) engine.Status { return r.engineStatus(ctx) }
	errCh := make(chan error, 2)

	httpSrv := server.New(server.Config{
		Addr:         opts.HTTPAddr,
		Store:        r.store,
		Pipeline:     p,
		Metrics:      r.metrics,
		EngineStatus: status,
		Logger:       r.log,
	})
	go func() { errCh <- httpSrv.Start(ctx) }()

	if opts.GRPCAddr != "" {
		grpcSrv := grpcserver.New(grpcserver.Config{
			Addr:         opts.GRPCAddr,
			EngineStatus: status,
			Metrics:      r.metrics,
			Logger:       r.log,
		})
		go func() { errCh <- grpcSrv.Start(ctx) }()
	}

	err := <-errCh
	cancel()
	return err
}

func newHistoryCmd(root *Root) *cobra.Command {
	var (
		operation string
		image     string
		jobs      bool
		limit     int
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent engine invocations, jobs or attitudes",
		Long: `Show history from the local database. By default lists engine invocations;
--jobs lists pipeline jobs and --image lists the attitudes found for an image
("all" for every image).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return errors.New("history is unavailable: no history database")
			}
			switch {
			case image != "":
				if image == "all" {
					image = ""
				} else if abs, err := filepath.Abs(image); err == nil {
					image = abs
				}
				recs, err := root.store.Attitudes(image, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(recs)
				}
				for _, rec := range recs {
					fmt.Printf("%s  %-6s known=%d %s %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Variant, rec.Known, formatAngles(rec), rec.ImagePath)
				}
			case jobs:
				recs, err := root.store.RecentJobs(limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(recs)
				}
				for _, rec := range recs {
					line := fmt.Sprintf("%s  %-8s %-9s %s", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.JobType, rec.Status, rec.InputPath)
					if rec.Error != "" {
						line += "  error: " + rec.Error
					}
					fmt.Println(line)
				}
			default:
				recs, err := root.store.RecentInvocations(operation, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(recs)
				}
				for _, rec := range recs {
					fmt.Printf("%s  %-8s exit=%d %8s  %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"), rec.Operation, rec.ExitCode, rec.Duration, rec.Args)
					if rec.Error != "" {
						fmt.Printf("    error: %s\n", rec.Error)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "only invocations of this operation (database|generate|identify)")
	cmd.Flags().StringVar(&image, "image", "", "list attitudes for this image path, or all")
	cmd.Flags().BoolVar(&jobs, "jobs", false, "list pipeline jobs")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func formatAngles(rec storage.AttitudeRecord) string {
	if rec.RA == nil || rec.De == nil || rec.Roll == nil {
		return "ra=- de=- roll=-"
	}
	return fmt.Sprintf("ra=%.6f de=%.6f roll=%.6f", *rec.RA, *rec.De, *rec.Roll)
}

func newEngineCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "engine",
		Short: "Locate the engine executable and report whether it runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := root.engineStatus(cmd.Context())
			if !st.Available {
				fmt.Printf("engine: not available\n")
				if st.Path != "" {
					fmt.Printf("path: %s\n", st.Path)
				}
				return fmt.Errorf("engine not available: %w", st.Error)
			}
			fmt.Printf("engine: available\n")
			fmt.Printf("path: %s\n", st.Path)
			fmt.Printf("version: %s\n", st.Version)
			return nil
		},
	}
}
