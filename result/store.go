package result

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format selects the file representation used by Store.Save.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Store persists traces as files under a directory.
type Store struct {
	Dir    string
	Format Format
	Now    func() time.Time // Clock used for derived names; defaults to time.Now
}

// NewStore creates a Store writing JSON files into dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, Format: FormatJSON, Now: time.Now}
}

// Save writes the full trace and returns the path written. When name is
// empty a timestamp-derived name is used; existing files are never
// overwritten by a derived name.
func (s *Store) Save(trace *Trace, name string) (string, error) {
	format := s.Format
	if format == "" {
		format = FormatJSON
	}
	if err := os.MkdirAll(s.dirOrDot(), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	var (
		f   *os.File
		err error
	)
	if name != "" {
		path := filepath.Join(s.dirOrDot(), name)
		f, err = os.Create(path)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
	} else {
		f, err = s.createDerived(format)
		if err != nil {
			return "", err
		}
	}
	path := f.Name()

	writeErr := write(f, trace, format)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// createDerived opens a new file named after the current time, adding a
// counter suffix if a run in the same second already used the name.
func (s *Store) createDerived(format Format) (*os.File, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	base := "rate_limit_test_results_" + now().Format("20060102_150405")

	for i := 0; i < 1000; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		path := filepath.Join(s.dirOrDot(), name+"."+string(format))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("no free result file name for %s", base)
}

func (s *Store) dirOrDot() string {
	if s.Dir == "" {
		return "."
	}
	return s.Dir
}

func write(w io.Writer, trace *Trace, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, trace)
	case FormatXLSX:
		return WriteXLSX(w, trace)
	default:
		return WriteJSON(w, trace)
	}
}

// Load reads a JSON trace file written by Save.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	trace, err := ReadJSON(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return trace, nil
}
