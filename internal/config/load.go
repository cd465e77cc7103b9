package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration file shared by both binaries.
// Every field is optional; unset fields keep their defaults and CLI flags
// always win over file values.
//
//	sender:
//	  retry:
//	    base_timeout: 200ms
//	    max_retries: 0
//	    backoff: 1.5
//	    max_timeout: 2s
//	receiver:
//	  output_dir: ./incoming
//	  linger: 1s
//	  repeat_meta_ack: false
type File struct {
	Sender   SenderFile   `yaml:"sender"`
	Receiver ReceiverFile `yaml:"receiver"`
}

// SenderFile holds sender overrides from the config file.
type SenderFile struct {
	Retry RetryFile `yaml:"retry"`
}

// RetryFile holds retry overrides from the config file.
type RetryFile struct {
	BaseTimeout *Duration `yaml:"base_timeout,omitempty"`
	MaxRetries  *int      `yaml:"max_retries,omitempty"`
	Backoff     *float64  `yaml:"backoff,omitempty"`
	MaxTimeout  *Duration `yaml:"max_timeout,omitempty"`
}

// ReceiverFile holds receiver overrides from the config file.
type ReceiverFile struct {
	OutputDir     *string   `yaml:"output_dir,omitempty"`
	Linger        *Duration `yaml:"linger,omitempty"`
	RepeatMetaAck *bool     `yaml:"repeat_meta_ack,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "200ms", "2s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "200ms" or "1m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Load reads and parses a YAML config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML config: %w", err)
	}
	return &f, nil
}

// ApplySender overlays the file's sender section onto cfg.
func (f *File) ApplySender(cfg *SenderConfig) {
	if f == nil {
		return
	}
	r := f.Sender.Retry
	if r.BaseTimeout != nil {
		cfg.Retry.BaseTimeout = r.BaseTimeout.Duration
	}
	if r.MaxRetries != nil {
		cfg.Retry.MaxRetries = *r.MaxRetries
	}
	if r.Backoff != nil {
		cfg.Retry.Backoff = *r.Backoff
	}
	if r.MaxTimeout != nil {
		cfg.Retry.MaxTimeout = r.MaxTimeout.Duration
	}
}

// ApplyReceiver overlays the file's receiver section onto cfg.
func (f *File) ApplyReceiver(cfg *ReceiverConfig) {
	if f == nil {
		return
	}
	r := f.Receiver
	if r.OutputDir != nil {
		cfg.OutputDir = *r.OutputDir
	}
	if r.Linger != nil {
		cfg.Linger = r.Linger.Duration
	}
	if r.RepeatMetaAck != nil {
		cfg.RepeatMetaAck = *r.RepeatMetaAck
	}
}
