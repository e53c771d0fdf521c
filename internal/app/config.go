package app

import (
	"errors"
	"fmt"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GraphPaths []string // .hcl, .yaml and .yml files or directories

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	Workers         int
	MailboxSize     int

	// HistoryPath is a sqlite database receiving step history. Empty keeps
	// history in memory for the lifetime of the process.
	HistoryPath string
	// DumpPath receives the actor set dump before the run; "-" is the
	// output writer.
	DumpPath string
	// Inputs are literal values, one per program input, in program order.
	Inputs []string
	// Feeds are `name=literal` values for queue inputs. The n-th value given
	// for each queue input forms the batch of step n.
	Feeds []string
}

// NewConfig validates cfg and fills defaults.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.GraphPaths) == 0 {
		return nil, errors.New("at least one graph path is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.MailboxSize < 0 {
		return nil, fmt.Errorf("mailbox size must not be negative, got %d", cfg.MailboxSize)
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = 256
	}
	return &cfg, nil
}
