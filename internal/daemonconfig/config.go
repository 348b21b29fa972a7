// Package daemonconfig loads the radlink daemons' YAML config files,
// in the same NewFromFile-unmarshals-gopkg.in/yaml.v3 shape the rest of
// the pack's daemon configs use. Flags passed on the command line take
// precedence over a loaded file; the file exists for the settings an
// operator wants to keep out of a process supervisor's argv.
package daemonconfig

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Objd is radlink-objd's on-disk configuration.
type Objd struct {
	Listen  string `yaml:"listen"`
	Backend string `yaml:"backend"`
}

// Syncd is radlink-syncd's on-disk configuration.
type Syncd struct {
	Listen   string `yaml:"listen"`
	Root     string `yaml:"root"`
	SelfPeer string `yaml:"selfPeer"`
	MaxBytes int64  `yaml:"maxBytes"`
}

func LoadObjd(path string) (*Objd, error) {
	c := &Objd{}
	if err := load(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadSyncd(path string) (*Syncd, error) {
	c := &Syncd{}
	if err := load(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
