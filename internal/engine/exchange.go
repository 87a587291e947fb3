package engine

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Flags whose values name exchange files.
const (
	FlagPNG           = "--png"
	FlagPlotRawInput  = "--plot-raw-input"
	FlagPlotInput     = "--plot-input"
	FlagPlotOutput    = "--plot-output"
	FlagPrintAttitude = "--print-attitude"
)

// Flags naming the database artifact: written by database, read by identify.
const (
	FlagOutput   = "--output"
	FlagDatabase = "--database"
)

// pathFlags carry file paths the engine resolves against its working
// directory.
var pathFlags = []string{FlagPNG, FlagPlotRawInput, FlagPlotInput, FlagPlotOutput, FlagPrintAttitude, FlagOutput, FlagDatabase}

// Role identifies an exchange file.
type Role string

const (
	RoleRawInput        Role = "raw-input-image"
	RoleAnnotatedInput  Role = "annotated-input-image"
	RoleAnnotatedOutput Role = "annotated-output-image"
	RoleAttitude        Role = "attitude-text"
	// RoleDatabase is the database artifact. It lives at a configured path,
	// never inside an exchange directory.
	RoleDatabase Role = "database-binary"
)

var roleFiles = map[Role]string{
	RoleRawInput:        "raw-input.png",
	RoleAnnotatedInput:  "input.png",
	RoleAnnotatedOutput: "annotated_output.png",
	RoleAttitude:        "attitude.txt",
}

// FileName is the file name the role uses inside an exchange directory.
func (r Role) FileName() string {
	if name, ok := roleFiles[r]; ok {
		return name
	}
	return string(r)
}

// IsImage reports whether the role carries a PNG image.
func (r Role) IsImage() bool { return r != RoleAttitude && r != RoleDatabase }

// Exchange is the directory of files shared with one engine invocation. Each
// invocation gets its own directory, so concurrent calls never share a path.
type Exchange struct {
	id  string
	dir string
}

// NewExchange creates a fresh exchange directory under root (the system temp
// dir when root is empty).
func NewExchange(root string) (*Exchange, error) {
	if root == "" {
		root = os.TempDir()
	}
	id := uuid.NewString()
	dir := filepath.Join(root, "lost-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exchange directory: %w", err)
	}
	return &Exchange{id: id, dir: dir}, nil
}

func (e *Exchange) ID() string  { return e.id }
func (e *Exchange) Dir() string { return e.dir }

// Path returns the fixed path of role inside this exchange.
func (e *Exchange) Path(role Role) string {
	return filepath.Join(e.dir, role.FileName())
}

// WriteInput encodes img as PNG at the raw-input path, replacing any file
// already there.
func (e *Exchange) WriteInput(img image.Image) error {
	return writePNG(e.Path(RoleRawInput), img)
}

// ReadImage decodes the PNG the engine wrote for role.
func (e *Exchange) ReadImage(role Role) (image.Image, error) {
	return readPNG(role, e.Path(role))
}

// ReadText returns the raw contents written for role.
func (e *Exchange) ReadText(role Role) (string, error) {
	return readText(role, e.Path(role))
}

// Cleanup removes the file of role. An absent file is not an error.
func (e *Exchange) Cleanup(role Role) error {
	return removeIfExists(e.Path(role))
}

// Close removes the exchange directory and everything left in it.
func (e *Exchange) Close() error {
	if e == nil || e.dir == "" {
		return nil
	}
	return os.RemoveAll(e.dir)
}

var errNotWritten = errors.New("engine exited cleanly but did not write the file")

// readImageOutput reads the image named by flag, if the flag is present.
// Exchange files are removed after reading; caller-supplied paths are left.
func readImageOutput(ex *Exchange, args *Args, flag string, role Role) (image.Image, error) {
	v, ok := args.Get(flag)
	if !ok || v.IsFlag() {
		return nil, nil
	}
	if v.Kind() != KindExchange {
		return readPNG(role, v.String())
	}
	img, err := ex.ReadImage(v.Role())
	if err != nil {
		return nil, err
	}
	_ = ex.Cleanup(v.Role())
	return img, nil
}

func readTextOutput(ex *Exchange, args *Args, flag string, role Role) (string, error) {
	v, ok := args.Get(flag)
	if !ok || v.IsFlag() {
		return "", nil
	}
	if v.Kind() != KindExchange {
		return readText(role, v.String())
	}
	text, err := ex.ReadText(v.Role())
	if err != nil {
		return "", err
	}
	_ = ex.Cleanup(v.Role())
	return text, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func writePNG(path string, img image.Image) error {
	if img == nil {
		return errors.New("write input image: nil image")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write input image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode input image: %w", err)
	}
	return f.Close()
}

func readPNG(role Role, path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MissingOutputError{Role: role, Path: path, Err: err}
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", role, path, err)
	}
	return img, nil
}

func readText(role Role, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &MissingOutputError{Role: role, Path: path, Err: err}
	}
	return string(data), nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
