// Package config holds the tunable parameters of both transfer roles.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Defaults.
const (
	DefaultBaseTimeout = 200 * time.Millisecond
	DefaultBackoff     = 1.0
)

// RetryPolicy controls how long the sender waits for an ack and how often it
// retransmits before giving up.
type RetryPolicy struct {
	BaseTimeout time.Duration `yaml:"base_timeout"`
	MaxRetries  int           `yaml:"max_retries"` // 0 retries forever
	Backoff     float64       `yaml:"backoff"`     // timeout multiplier per retransmission, 1 keeps it fixed
	MaxTimeout  time.Duration `yaml:"max_timeout"` // upper bound for backoff, 0 means no bound
}

// DefaultRetryPolicy retries forever with a fixed 200 ms timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseTimeout: DefaultBaseTimeout,
		Backoff:     DefaultBackoff,
	}
}

// Infinite reports whether the policy never gives up.
func (p RetryPolicy) Infinite() bool {
	return p.MaxRetries == 0
}

// Next returns the timeout to use after a retransmission that followed a
// wait of current.
func (p RetryPolicy) Next(current time.Duration) time.Duration {
	if p.Backoff <= 1 {
		return current
	}
	next := time.Duration(float64(current) * p.Backoff)
	if p.MaxTimeout > 0 && next > p.MaxTimeout {
		return p.MaxTimeout
	}
	return next
}

// Validate checks the policy for values the sender cannot work with.
func (p RetryPolicy) Validate() error {
	if p.BaseTimeout <= 0 {
		return fmt.Errorf("base timeout must be positive, got %v: %w", p.BaseTimeout, ErrInvalid)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d: %w", p.MaxRetries, ErrInvalid)
	}
	if p.Backoff < 1 {
		return fmt.Errorf("backoff must be at least 1, got %v: %w", p.Backoff, ErrInvalid)
	}
	if p.MaxTimeout != 0 && p.MaxTimeout < p.BaseTimeout {
		return fmt.Errorf("max timeout %v is below base timeout %v: %w", p.MaxTimeout, p.BaseTimeout, ErrInvalid)
	}
	return nil
}

// SenderConfig configures the sending role.
type SenderConfig struct {
	Retry RetryPolicy `yaml:"retry"`
}

// DefaultSenderConfig returns the sender defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{Retry: DefaultRetryPolicy()}
}

// Validate checks the sender configuration.
func (c SenderConfig) Validate() error {
	return c.Retry.Validate()
}

// ReceiverConfig configures the receiving role.
type ReceiverConfig struct {
	// OutputDir is where the received file is created.
	OutputDir string `yaml:"output_dir"`

	// Linger keeps answering duplicate frames for this quiet period after the
	// file is complete. Zero returns as soon as the last unit is written.
	Linger time.Duration `yaml:"linger"`

	// RepeatMetaAck sends one more metadata ack when the first content frame
	// ends the handshake, before that frame's own ack.
	RepeatMetaAck bool `yaml:"repeat_meta_ack"`
}

// DefaultReceiverConfig returns the receiver defaults.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{OutputDir: "."}
}

// Validate checks the receiver configuration.
func (c ReceiverConfig) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output directory must not be empty: %w", ErrInvalid)
	}
	if c.Linger < 0 {
		return fmt.Errorf("linger must not be negative, got %v: %w", c.Linger, ErrInvalid)
	}
	return nil
}

// ValidatePort checks a UDP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be 1~65535, got %d: %w", port, ErrInvalid)
	}
	return nil
}
