package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile holds importctl defaults read from a YAML file. Command-line flags
// and environment variables override these values.
//
//	server: http://localhost:8080
//	api_key: secret
//	chunk_size: 1048576
//	poll_interval: 1s
//	defaults:
//	  dataset: products
//	  strategy: upsert
//	  reference: categories
type Profile struct {
	Server       string        `yaml:"server"`
	APIKey       string        `yaml:"api_key"`
	ChunkSize    int64         `yaml:"chunk_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Defaults     struct {
		Dataset   string `yaml:"dataset"`
		Strategy  string `yaml:"strategy"`
		Reference string `yaml:"reference"`
	} `yaml:"defaults"`
}

// LoadProfile reads a profile. A missing file yields an empty profile so
// the tool works without one.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read profile: %w", err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.ChunkSize < 0 {
		return p, fmt.Errorf("profile %s: chunk_size must not be negative", path)
	}
	return p, nil
}
