package engine

import "strings"

// Operation names one of the engine workflows.
type Operation string

const (
	OpDatabase Operation = "database"
	OpGenerate Operation = "generate"
	OpIdentify Operation = "identify"
)

// Variant selects the star-identification algorithm family.
type Variant string

const (
	Pyramidal Variant = "py"
	Tetra     Variant = "tetra"
)

// ParseVariant accepts the engine spelling ("py", "tetra") and the long form
// "pyramidal".
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "py", "pyramidal", "pyramid":
		return Pyramidal, nil
	case "tetra":
		return Tetra, nil
	default:
		return "", configErrorf("unknown algorithm variant %q (want py or tetra)", s)
	}
}

// GenType selects the image-generation preset.
type GenType string

const (
	GenDefault GenType = "default"
	// GenOreSat mimics the OreSat star-tracker camera.
	GenOreSat GenType = "oresat"
)

// GenerateOptions controls which images a generate call asks the engine for.
type GenerateOptions struct {
	Type      GenType
	Raw       bool
	Annotated bool
}

// DefaultGenerateOptions asks for both images with the default preset.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Type: GenDefault, Raw: true, Annotated: true}
}

// Builder produces fresh default argument sets. The database paths are the
// only environment-dependent part of the templates.
type Builder struct {
	PyDatabase    string
	TetraDatabase string
}

func (b Builder) databasePath(v Variant) string {
	if v == Tetra {
		return b.TetraDatabase
	}
	return b.PyDatabase
}

// Build returns the default configuration for op with overrides applied. The
// variant string is the algorithm for database and identify, and the
// generation preset for generate ("" means default).
func (b Builder) Build(op Operation, variant string, overrides *Args) (*Args, error) {
	switch op {
	case OpDatabase, OpIdentify:
		v, err := ParseVariant(variant)
		if err != nil {
			return nil, err
		}
		if op == OpDatabase {
			return b.Database(v, overrides)
		}
		return b.Identify(v, overrides)
	case OpGenerate:
		opts := DefaultGenerateOptions()
		if variant != "" {
			opts.Type = GenType(strings.ToLower(variant))
		}
		return b.Generate(opts, overrides)
	default:
		return nil, configErrorf("unknown operation %q", op)
	}
}

// Database returns the database-generation arguments for v.
func (b Builder) Database(v Variant, overrides *Args) (*Args, error) {
	var args *Args
	switch v {
	case Pyramidal:
		args = NewArgs(
			Entry{"database", Flag()},
			Entry{"--max-stars", Int(5000)},
			Entry{"--kvector", Flag()},
			Entry{"--kvector-min-distance", Float(0.2)},
			Entry{"--kvector-max-distance", Float(15.0)},
			Entry{"--kvector-distance-bins", Int(10000)},
			Entry{FlagOutput, Str(b.databasePath(v))},
		)
	case Tetra:
		args = NewArgs(
			Entry{"database", Flag()},
			Entry{"--min-mag", Int(7)},
			Entry{"--tetra", Flag()},
			Entry{"--tetra-max-angle", Int(12)},
			Entry{FlagOutput, Str(b.databasePath(v))},
		)
	default:
		return nil, configErrorf("invalid database variant %q (want py or tetra)", v)
	}
	return args.Merge(overrides), nil
}

// Generate returns the image-generation arguments for opts.
func (b Builder) Generate(opts GenerateOptions, overrides *Args) (*Args, error) {
	var args *Args
	switch opts.Type {
	case GenDefault, "":
		args = NewArgs(
			Entry{"pipeline", Flag()},
			Entry{"--generate", Int(1)},
			Entry{"--generate-x-resolution", Int(1024)},
			Entry{"--generate-y-resolution", Int(1024)},
			Entry{"--fov", Int(30)},
			Entry{"--generate-spread-stddev", Int(1)},
			Entry{"--generate-ra", Int(88)},
			Entry{"--generate-de", Int(7)},
			Entry{"--generate-roll", Int(0)},
		)
	case GenOreSat:
		args = NewArgs(
			Entry{"pipeline", Flag()},
			Entry{"--generate", Int(1)},
			Entry{"--fov", Int(17)},
			Entry{"--generate-x-resolution", Int(1280)},
			Entry{"--generate-y-resolution", Int(960)},
			Entry{"--generate-ra", Float(79.4232)},
			Entry{"--generate-de", Float(46.2072)},
			Entry{"--generate-roll", Float(78.2978)},
			Entry{"--generate-perturb-centroids", Int(0)},
			Entry{"--generate-shot-noise", Str("true")},
			Entry{"--generate-read-noise-stddev", Float(0.01)},
			Entry{"--generate-dark-current", Float(0.07)},
		)
	default:
		return nil, configErrorf("invalid generation type %q (want default or oresat)", opts.Type)
	}
	if opts.Raw {
		args.Set(FlagPlotRawInput, ExchangeFile(RoleRawInput))
	}
	if opts.Annotated {
		args.Set(FlagPlotInput, ExchangeFile(RoleAnnotatedInput))
	}
	return args.Merge(overrides), nil
}

// Identify returns the identification arguments for v.
func (b Builder) Identify(v Variant, overrides *Args) (*Args, error) {
	var args *Args
	switch v {
	case Pyramidal:
		args = NewArgs(
			Entry{"pipeline", Flag()},
			Entry{FlagPNG, ExchangeFile(RoleRawInput)},
			Entry{"--focal-length", Int(49)},
			Entry{"--pixel-size", Float(22.2)},
			Entry{"--centroid-algo", Str("cog")},
			Entry{"--centroid-mag-filter", Int(5)},
			Entry{FlagDatabase, Str(b.databasePath(v))},
			Entry{"--star-id-algo", Str("py")},
			Entry{"--angular-tolerance", Float(0.05)},
			Entry{"--false-stars", Int(1000)},
			Entry{"--max-mismatch-prob", Float(0.0001)},
			Entry{"--attitude-algo", Str("dqm")},
			Entry{FlagPrintAttitude, ExchangeFile(RoleAttitude)},
		)
	case Tetra:
		args = NewArgs(
			Entry{"pipeline", Flag()},
			Entry{FlagPNG, ExchangeFile(RoleRawInput)},
			Entry{"--fov", Int(17)},
			Entry{"--centroid-algo", Str("cog")},
			Entry{"--centroid-filter-brightest", Int(4)},
			Entry{FlagDatabase, Str(b.databasePath(v))},
			Entry{"--star-id-algo", Str("tetra")},
			Entry{"--false-stars", Int(0)},
			Entry{"--attitude-algo", Str("dqm")},
			Entry{FlagPrintAttitude, ExchangeFile(RoleAttitude)},
		)
	default:
		return nil, configErrorf("invalid identification variant %q (want py or tetra)", v)
	}
	return args.Merge(overrides), nil
}

// WithPlotOutput asks identify to also return the annotated output image.
func WithPlotOutput(args *Args) *Args {
	return args.Merge(NewArgs(Entry{FlagPlotOutput, ExchangeFile(RoleAnnotatedOutput)}))
}
