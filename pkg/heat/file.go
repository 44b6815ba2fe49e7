package heat

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadingsFile is the YAML layout of a heat readings file.
type ReadingsFile struct {
	Updated  string    `yaml:"updated"`
	Readings []Reading `yaml:"readings"`
}

// LoadReadings reads a YAML readings file.
func LoadReadings(path string) (*ReadingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read readings file %s: %w", path, err)
	}

	f, err := LoadReadingsFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("readings file %s: %w", path, err)
	}
	return f, nil
}

// LoadReadingsFromBytes parses YAML readings from raw bytes.
func LoadReadingsFromBytes(data []byte) (*ReadingsFile, error) {
	var f ReadingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse readings: %w", err)
	}
	if len(f.Readings) == 0 {
		return nil, fmt.Errorf("no readings defined")
	}
	for i, r := range f.Readings {
		if r.Grid == "" {
			return nil, fmt.Errorf("reading %d: missing grid", i)
		}
		if r.Level != "" && !r.Level.Valid() {
			return nil, fmt.Errorf("reading %d: unknown level %q", i, r.Level)
		}
	}
	return &f, nil
}

// FileSource serves readings from a YAML file, re-read on every lookup so
// operators can update it while the service runs.
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed source. The file is validated once up front.
func NewFileSource(path string) (*FileSource, error) {
	if _, err := LoadReadings(path); err != nil {
		return nil, err
	}
	return &FileSource{path: path}, nil
}

func (s *FileSource) Reading(ctx context.Context, grid string) (Reading, error) {
	f, err := LoadReadings(s.path)
	if err != nil {
		return Reading{}, err
	}
	return NewStatic(f.Readings...).Reading(ctx, grid)
}
