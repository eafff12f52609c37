package sink

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrSourceMissing is returned when the input file does not exist.
	ErrSourceMissing = errors.New("source file does not exist")
	// ErrDestinationExists is returned when an output file already exists.
	ErrDestinationExists = errors.New("destination file exists already")
)

const outputPerm = 0o644

// CheckSource verifies that path names an existing regular file.
func CheckSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("the file %s does not exist: %w", path, ErrSourceMissing)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("the file %s is a directory", path)
	}
	return nil
}

// CheckDestination verifies that nothing exists at path yet.
func CheckDestination(path string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return fmt.Errorf("the file %s exists already: %w", path, ErrDestinationExists)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("stat %s: %w", path, err)
}

// Output is a destination file staged in a temporary file next to it. The
// destination appears only on Commit.
type Output struct {
	path string
	tmp  *os.File
	done bool
}

// CreateOutput stages a new output for path.
func CreateOutput(path string) (*Output, error) {
	if err := CheckDestination(path); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Output{path: path, tmp: tmp}, nil
}

// Path returns the destination path.
func (o *Output) Path() string {
	return o.path
}

// Writer returns the staging writer.
func (o *Output) Writer() io.Writer {
	return o.tmp
}

// Commit moves the staged content to the destination. It fails without
// touching an existing file at the destination.
func (o *Output) Commit() error {
	if o.done {
		return nil
	}
	o.done = true
	tmpPath := o.tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := o.tmp.Sync(); err != nil {
		_ = o.tmp.Close()
		return fmt.Errorf("sync %s: %w", o.path, err)
	}
	if err := o.tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", o.path, err)
	}
	if err := os.Chmod(tmpPath, outputPerm); err != nil {
		return fmt.Errorf("chmod %s: %w", o.path, err)
	}

	// Link refuses to replace an existing destination.
	err := os.Link(tmpPath, o.path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("the file %s exists already: %w", o.path, ErrDestinationExists)
	}
	// Some filesystems have no hard links.
	if err := CheckDestination(o.path); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, o.path); err != nil {
		return fmt.Errorf("rename %s: %w", o.path, err)
	}
	return nil
}

// Abort discards the staged content. It is a no-op after Commit.
func (o *Output) Abort() {
	if o.done {
		return
	}
	o.done = true
	_ = o.tmp.Close()
	_ = os.Remove(o.tmp.Name())
}

// Outputs holds the optional cleaned and summary destinations of a run.
type Outputs struct {
	Cleaned *Output
	Summary *Output
}

// CreateOutputs checks every destination and then stages the requested
// outputs. Empty paths are skipped. Nothing is created when any check fails.
func CreateOutputs(cleanedPath, summaryPath string) (*Outputs, error) {
	if cleanedPath != "" && cleanedPath == summaryPath {
		return nil, fmt.Errorf("cleaned and summary destinations are the same file %s", cleanedPath)
	}
	for _, p := range []string{cleanedPath, summaryPath} {
		if p == "" {
			continue
		}
		if err := CheckDestination(p); err != nil {
			return nil, err
		}
	}

	outs := &Outputs{}
	var err error
	if cleanedPath != "" {
		if outs.Cleaned, err = CreateOutput(cleanedPath); err != nil {
			return nil, err
		}
	}
	if summaryPath != "" {
		if outs.Summary, err = CreateOutput(summaryPath); err != nil {
			outs.Abort()
			return nil, err
		}
	}
	return outs, nil
}

// Writers returns the staging writers, nil for absent outputs.
func (o *Outputs) Writers() (cleaned, summary io.Writer) {
	if o.Cleaned != nil {
		cleaned = o.Cleaned.Writer()
	}
	if o.Summary != nil {
		summary = o.Summary.Writer()
	}
	return cleaned, summary
}

// Commit publishes every staged output. When one commit fails the remaining
// ones are discarded.
func (o *Outputs) Commit() error {
	for _, out := range []*Output{o.Cleaned, o.Summary} {
		if out == nil {
			continue
		}
		if err := out.Commit(); err != nil {
			o.Abort()
			return err
		}
	}
	return nil
}

// Abort discards every output that was not committed.
func (o *Outputs) Abort() {
	for _, out := range []*Output{o.Cleaned, o.Summary} {
		if out != nil {
			out.Abort()
		}
	}
}
