package config

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count written either as a plain integer or in human
// form ("512MB", "2 GiB").
type ByteSize uint64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	n, err := parseByteSize(value)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// UnmarshalYAML accepts both integer and string scalars.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", node.Line)
	}
	return b.Decode(node.Value)
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func parseByteSize(value string) (uint64, error) {
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		return n, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", value, err)
	}
	return n, nil
}
