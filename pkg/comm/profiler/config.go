// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gomcrdl/gomcrdl/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of the comms logger.
type Config struct {
	// Enabled turns on the instrumentation of the collectives. Default is false.
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// Verbose logs every profiled operation as it completes. Default is false.
	Verbose bool `json:"verbose" yaml:"verbose" toml:"verbose"`

	// ProfAll profiles every operation. Default is true.
	ProfAll bool `json:"prof_all" yaml:"prof_all" toml:"prof_all"`

	// Debug appends the name of the calling function to the record names. Default is false.
	Debug bool `json:"debug" yaml:"debug" toml:"debug"`

	// ProfOps are the log names to profile when ProfAll is false.
	ProfOps []string `json:"prof_ops" yaml:"prof_ops" toml:"prof_ops"`
}

// DefaultConfig returns the default configuration: disabled, and profiling all operations once enabled.
func DefaultConfig() Config {
	return Config{ProfAll: true, ProfOps: []string{}}
}

// configFile is the layout of a configuration file: the comms logger configuration is under "comms_logger".
type configFile struct {
	CommsLogger Config `json:"comms_logger" yaml:"comms_logger" toml:"comms_logger"`
}

// ParseConfig parses a JSON document with the configuration under the "comms_logger" key, as in:
//
//	{"comms_logger": {"enabled": true, "prof_all": false, "prof_ops": ["all_reduce"]}}
//
// Missing fields take their default values, and other keys of the document are ignored, so it can be
// a section of a larger configuration file.
func ParseConfig(data []byte) (Config, error) {
	file := configFile{CommsLogger: DefaultConfig()}
	if err := json.Unmarshal(data, &file); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse comms logger configuration")
	}
	return file.CommsLogger, nil
}

// LoadConfig reads the configuration from a file. The format is selected by the file extension:
// ".yaml" or ".yml" for YAML, ".toml" for TOML, and JSON otherwise.
//
// Environment variables and a leading "~" in path are expanded.
func LoadConfig(path string) (Config, error) {
	path, err := fsutil.ExpandPath(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read comms logger configuration")
	}
	file := configFile{CommsLogger: DefaultConfig()}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		_, err = toml.Decode(string(data), &file)
	default:
		file.CommsLogger, err = ParseConfig(data)
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse comms logger configuration in %q", path)
	}
	return file.CommsLogger, nil
}
