// Package config reads the optional configuration file. Command line flags
// take precedence over values from the file.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/textfile"
	"github.com/hashget/hashget/internal/ui"
	"gopkg.in/yaml.v3"
)

// Size is a byte count which may be written as a number or with a unit
// suffix like "100K".
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: size must be a scalar", value.Line)
	}
	n, err := ui.ParseBytes(value.Value)
	if err != nil {
		return errors.Errorf("line %d: invalid size %q", value.Line, value.Value)
	}
	*s = Size(n)
	return nil
}

// Server configures the serve command.
type Server struct {
	Listen    string   `yaml:"listen"`
	Project   string   `yaml:"project"`
	AcceptURL []string `yaml:"accept_url"`
	MOTD      string   `yaml:"motd"`
}

// Config is the content of the configuration file.
type Config struct {
	HashDB   string `yaml:"hashdb"`
	CacheDir string `yaml:"cache_dir"`

	HashServers []string `yaml:"hashservers"`
	Pools       []string `yaml:"pools"`

	Heuristics []string `yaml:"heuristics"`
	Projects   []string `yaml:"projects"`

	AnchorMinSize Size     `yaml:"anchor_min_size"`
	MinSize       Size     `yaml:"min_size"`
	ForcedAnchors []string `yaml:"forced_anchors"`

	Server Server `yaml:"server"`
}

// Parse decodes a configuration. Unknown keys are an error.
func Parse(buf []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Load reads the configuration file.
func Load(filename string) (*Config, error) {
	buf, err := textfile.Read(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(buf)
	if err != nil {
		return nil, errors.Fatalf("%v: %v", filename, err)
	}
	return cfg, nil
}

// DefaultFiles returns the locations searched without --config: the user's
// file before the system wide one.
func DefaultFiles() []string {
	var files []string
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".hashget", "config.yaml"))
	}
	return append(files, "/etc/hashget/config.yaml")
}

// Find loads the first existing file of candidates. It returns an empty
// configuration if none exists.
func Find(candidates []string) (*Config, string, error) {
	for _, fn := range candidates {
		if _, err := os.Stat(fn); err != nil {
			continue
		}
		cfg, err := Load(fn)
		return cfg, fn, err
	}
	return &Config{}, "", nil
}
