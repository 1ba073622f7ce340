package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return FormatJSON, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load reads a JSON or YAML case document, sorts buses by id and validates
// the result.
func Load(path string) (*Case, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case file: %w", err)
	}

	c, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return c, nil
}

func Parse(data []byte, format Format) (*Case, error) {
	var c Case

	switch format {
	case FormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&c); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	default:
		return nil, ErrUnknownFormat
	}

	c.SortBuses()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Case) SortBuses() {
	slices.SortStableFunc(c.Buses, func(a, b Bus) int {
		return a.ID - b.ID
	})
}

// Save writes the case in the format given by the file extension.
func (c *Case) Save(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding case: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing case file: %w", err)
	}
	return nil
}
