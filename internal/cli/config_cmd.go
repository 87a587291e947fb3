package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lostctl/internal/config"
	"lostctl/internal/engine"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow("text")
		},
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(format)
		},
	}
	show.Flags().StringVar(&format, "format", "text", "output format (text|json|yaml)")

	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.Path()
			}
			return root.configInit(path, force)
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "destination, $"+config.EnvConfig+" or the default location if empty")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}

func (r *Root) configShow(format string) error {
	switch format {
	case "json":
		return printJSON(r.cfg)
	case "yaml":
		data, err := yaml.Marshal(r.cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "text":
	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	fmt.Printf("Current configuration:\n")
	cfgPath := os.Getenv(config.EnvConfig)
	if cfgPath == "" {
		cfgPath = "(default) " + config.DefaultConfigPath
	}
	fmt.Printf("Config file: %s\n", cfgPath)

	enginePath := r.cfg.Engine.Path
	if enginePath == "" {
		enginePath = engine.DefaultBinary + " (from PATH)"
	}
	fmt.Printf("\nEngine:\n")
	fmt.Printf("  Path: %s\n", enginePath)
	fmt.Printf("  Home directory: %s\n", orDefault(r.cfg.Engine.HomeDir, "(engine directory)"))
	fmt.Printf("  Temp root: %s\n", r.cfg.Engine.TempRoot)
	fmt.Printf("  Timeout: %s\n", orDefault(formatTimeout(r.cfg), "none"))
	fmt.Printf("  Debug args: %t\n", r.cfg.Engine.DebugArgs)
	fmt.Printf("\nDatabases:\n")
	fmt.Printf("  py: %s\n", r.cfg.Databases.PyPath())
	fmt.Printf("  tetra: %s\n", r.cfg.Databases.TetraPath())
	fmt.Printf("\nProcessing:\n")
	fmt.Printf("  Parallel jobs: %d\n", r.cfg.Processing.ParallelJobs)
	fmt.Printf("  Variant: %s\n", r.cfg.Processing.Variant)
	fmt.Printf("  ImageMagick decoding: %t\n", r.cfg.Processing.UseMagick)
	fmt.Printf("\nHistory database: %s\n", r.cfg.Storage.HistoryPath)
	fmt.Printf("\nServer:\n")
	fmt.Printf("  HTTP: %s\n", r.cfg.Server.HTTPAddr)
	fmt.Printf("  gRPC: %s\n", orDefault(r.cfg.Server.GRPCAddr, "disabled"))
	fmt.Printf("\nWatch:\n")
	fmt.Printf("  Directories: %s\n", orDefault(strings.Join(r.cfg.Watch.Directories, ", "), "none"))
	fmt.Printf("  Extensions: %s\n", strings.Join(r.cfg.Watch.Extensions, " "))
	return nil
}

func (r *Root) configInit(path string, force bool) error {
	expanded, err := config.ExpandUser(path)
	if err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(expanded); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lostctl version and engine status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("lostctl %s\n", Version)
			fmt.Printf("Built with Go %s\n", runtime.Version())
			st := root.engineStatus(cmd.Context())
			if st.Available {
				fmt.Printf("Engine: %s (%s)\n", st.Path, st.Version)
			} else {
				fmt.Printf("Engine: unavailable\n")
			}
			return nil
		},
	}
}

func formatTimeout(cfg *config.Config) string {
	if d := cfg.Engine.Timeout(); d > 0 {
		return d.String()
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
