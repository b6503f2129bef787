package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueueCapacityAuto is the default queue capacity setting: one buffered batch
// per stream.
const QueueCapacityAuto = "auto"

// QueueCapacityUnbounded removes the relay queue bound.
const QueueCapacityUnbounded = "unbounded"

// Config defines configuration for the tablepull CLI.
type Config struct {
	Bucket        string   `yaml:"bucket"`
	Root          string   `yaml:"root"`
	Table         string   `yaml:"table"`
	Output        string   `yaml:"output"`
	MaxStreams    int      `yaml:"max_streams"`
	Ordered       bool     `yaml:"ordered"`
	QueueCapacity string   `yaml:"queue_capacity"`
	Columns       []string `yaml:"columns"`
	Progress      bool     `yaml:"progress"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Root:          "tables",
		QueueCapacity: QueueCapacityAuto,
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Root == "" {
		cfg.Root = "tables"
	}
	if cfg.QueueCapacity == "" {
		cfg.QueueCapacity = QueueCapacityAuto
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TABLEPULL_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("TABLEPULL_BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv("TABLEPULL_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("TABLEPULL_TABLE"); v != "" {
		c.Table = v
	}
	if v := os.Getenv("TABLEPULL_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("TABLEPULL_MAX_STREAMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TABLEPULL_MAX_STREAMS: %w", err)
		}
		c.MaxStreams = n
	}
	if v := os.Getenv("TABLEPULL_ORDERED"); v != "" {
		c.Ordered = v == "true" || v == "1"
	}
	if v := os.Getenv("TABLEPULL_QUEUE_CAPACITY"); v != "" {
		c.QueueCapacity = v
	}
	if v := os.Getenv("TABLEPULL_COLUMNS"); v != "" {
		c.Columns = SplitColumns(v)
	}
	if v := os.Getenv("TABLEPULL_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Table == "" {
		return errors.New("config: table is required")
	}
	if _, _, err := ParseQueueCapacity(c.QueueCapacity); err != nil {
		return err
	}
	return nil
}

// ParseQueueCapacity parses the queue_capacity setting. It returns the
// explicit bound (0 when none) and whether the queue is unbounded.
func ParseQueueCapacity(s string) (capacity int, unbounded bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", QueueCapacityAuto:
		return 0, false, nil
	case QueueCapacityUnbounded:
		return 0, true, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("config: invalid queue_capacity %q: %w", s, err)
	}
	if n < 1 {
		return 0, false, fmt.Errorf("config: queue_capacity must be positive, got %d", n)
	}
	return n, false, nil
}

// SplitColumns splits a comma-separated column list, trimming whitespace and
// dropping empty entries.
func SplitColumns(s string) []string {
	var out []string
	for _, col := range strings.Split(s, ",") {
		col = strings.TrimSpace(col)
		if col != "" {
			out = append(out, col)
		}
	}
	return out
}
