package main

import (
	"io/ioutil"
	"runtime"

	"github.com/go-errors/errors"
	"gopkg.in/yaml.v3"
)

// maxSize bounds the PNG edge length.
const maxSize = 4096

// Config controls what extracticon writes besides the JSON report.
type Config struct {
	// Output is the directory .ico files are written to. Nothing is
	// written when it is empty.
	Output string `yaml:"output"`
	// PNG also writes every icon group decoded as a PNG.
	PNG bool `yaml:"png"`
	// Size scales written PNGs to Size x Size when non zero.
	Size    int `yaml:"size"`
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	return &Config{
		Workers: runtime.NumCPU(),
	}
}

// LoadConfig reads a YAML config file. Keys it doesn't set keep their
// default values.
func LoadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WrapPrefix(err, "reading config", 0)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapPrefix(err, "parsing config", 0)
	}
	return config, nil
}

// Validate checks the config for values extraction can't work with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Size < 0 || c.Size > maxSize {
		return errors.Errorf("size must be between 0 and %d, got %d", maxSize, c.Size)
	}
	if c.PNG && c.Output == "" {
		return errors.New("png output requires an output directory")
	}
	if c.Size > 0 && !c.PNG {
		return errors.New("size only applies to png output")
	}
	return nil
}
