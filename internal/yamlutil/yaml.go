// Package yamlutil keeps goccy/go-yaml behind a small, size-limited API used
// by the config loader and the doctor report.
package yamlutil

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// MaxSize bounds YAML input. Config files are tiny; anything larger is a mistake.
const MaxSize = 1 << 20

var (
	ErrEmpty     = errors.New("yamlutil: empty document")
	ErrTooLarge  = errors.New("yamlutil: document too large")
	ErrNilTarget = errors.New("yamlutil: nil decode target")
)

// DecodeStrict decodes data into v and fails on keys v does not declare.
func DecodeStrict(data []byte, v any) error {
	switch {
	case v == nil:
		return ErrNilTarget
	case len(data) == 0:
		return ErrEmpty
	case len(data) > MaxSize:
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxSize)
	}
	if err := yaml.UnmarshalWithOptions(data, v, yaml.Strict()); err != nil {
		return fmt.Errorf("yamlutil: %w", err)
	}
	return nil
}

// DecodeFile reads at most MaxSize bytes from path and decodes them strictly.
func DecodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return fmt.Errorf("yamlutil: reading %s: %w", path, err)
	}
	return DecodeStrict(data, v)
}

// Encode renders v as YAML with two-space indentation.
func Encode(v any) ([]byte, error) {
	out, err := yaml.MarshalWithOptions(v, yaml.Indent(2))
	if err != nil {
		return nil, fmt.Errorf("yamlutil: %w", err)
	}
	return out, nil
}
