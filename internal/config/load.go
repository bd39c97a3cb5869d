package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped when a document names a key the config type does
// not have, or a value of the wrong type.
var ErrInvalid = errors.New("config: invalid document")

// Load reads the YAML file at path over a copy of defaults: keys present in
// the file replace the default, everything else keeps it. An empty path
// returns defaults unchanged.
func Load[T any](path string, defaults T) (T, error) {
	if path == "" {
		return defaults, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("config: %w", err)
	}
	return Decode(b, defaults)
}

// Decode is Load for an in-memory document.
func Decode[T any](b []byte, defaults T) (T, error) {
	out := defaults
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return defaults, nil
		}
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return defaults, fmt.Errorf("%w: %v", ErrInvalid, te.Errors)
		}
		return defaults, fmt.Errorf("config: %w", err)
	}
	return out, nil
}

// Encode renders cfg as YAML, for -print-config.
func Encode(cfg any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
