// Command lost-smoke exercises a real engine install end to end: it builds
// the pyramidal database when missing, generates a synthetic frame and
// identifies it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"lostctl/internal/config"
	"lostctl/internal/engine"
	"lostctl/internal/logging"
)

func main() {
	enginePath := flag.String("engine", "", "engine executable (default: config or PATH)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if *enginePath != "" {
		cfg.Engine.Path = *enginePath
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st := engine.Check(ctx, cfg.Engine.Path)
	if !st.Available {
		log.Fatal("Engine not available:", st.Error)
	}
	fmt.Printf("Engine: %s (%s)\n", st.Path, st.Version)

	client := engine.New(engine.Options{
		EnginePath: st.Path,
		HomeDir:    cfg.Engine.HomeDir,
		TempRoot:   cfg.Engine.TempRoot,
		Timeout:    cfg.Engine.Timeout(),
		Logger:     logger,
		Observers:  []engine.Observer{logging.Observer(logger)},
	})
	builder := engine.Builder{
		PyDatabase:    cfg.Databases.PyPath(),
		TetraDatabase: cfg.Databases.TetraPath(),
	}

	if _, err := os.Stat(builder.PyDatabase); err != nil {
		if err := os.MkdirAll(filepath.Dir(builder.PyDatabase), 0o755); err != nil {
			log.Fatal("Failed to create database directory:", err)
		}
		args, err := builder.Database(engine.Pyramidal, nil)
		if err != nil {
			log.Fatal(err)
		}
		start := time.Now()
		if err := client.Database(ctx, args); err != nil {
			log.Fatal("Database generation failed:", err)
		}
		fmt.Printf("Built %s in %s\n", builder.PyDatabase, time.Since(start).Round(time.Millisecond))
	}

	genArgs, err := builder.Generate(engine.GenerateOptions{Type: engine.GenDefault, Raw: true}, nil)
	if err != nil {
		log.Fatal(err)
	}
	raw, _, err := client.Generate(ctx, genArgs)
	if err != nil {
		log.Fatal("Generate failed:", err)
	}
	fmt.Printf("Generated %dx%d frame\n", raw.Bounds().Dx(), raw.Bounds().Dy())

	idArgs, err := builder.Identify(engine.Pyramidal, nil)
	if err != nil {
		log.Fatal(err)
	}
	att, err := client.Identify(ctx, raw, idArgs)
	if err != nil {
		log.Fatal("Identify failed:", err)
	}
	if !att.Identified() {
		log.Fatal("Frame was not identified")
	}

	ra, _ := att.Value(engine.FieldRA)
	de, _ := att.Value(engine.FieldDe)
	roll, _ := att.Value(engine.FieldRoll)
	fmt.Printf("Attitude: ra=%.4f de=%.4f roll=%.4f\n", ra, de, roll)

	// generated with ra=88 de=7 roll=0
	const tolerance = 0.5
	if math.Abs(ra-88) > tolerance || math.Abs(de-7) > tolerance {
		log.Fatalf("Attitude off by more than %.1f degrees", tolerance)
	}
	fmt.Println("Smoke test passed")
}
