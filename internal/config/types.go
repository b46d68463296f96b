package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the full on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Poll     PollConfig     `json:"poll"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout against the Telegram API.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec limits outbound messages. 0 means the default (20/s).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SourceConfig points at the upstream schedule publisher.
//
// URL must return the publisher's JSON menu collection. Relative image paths
// in the payload are resolved against MediaHost, or against URL's host when
// MediaHost is empty.
type SourceConfig struct {
	URL       string `json:"url"`
	MediaHost string `json:"media_host,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// PollConfig controls the background check loop.
//
// Modes:
//   - "fixed":  every run is separated by Every.
//   - "jitter": the delay is redrawn uniformly in [Min, Max] after every run,
//     so independent deployments don't hit the publisher in lockstep.
//   - "cron":   Spec is a cron expression (robfig/cron syntax, @every allowed).
type PollConfig struct {
	Mode         string `json:"mode"`
	Every        string `json:"every,omitempty"`
	Min          string `json:"min,omitempty"`
	Max          string `json:"max,omitempty"`
	Spec         string `json:"spec,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`
}

// StorageConfig controls the subscriber store backend.
//
// Driver values:
//   - "file": single JSON document, atomically replaced on save (default)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

const (
	PollModeFixed  = "fixed"
	PollModeJitter = "jitter"
	PollModeCron   = "cron"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the config for internal consistency. It is called on load
// and before committing a hot reload, so a bad edit never reaches services.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Telegram.SendRatePerSec < 0 {
		return errors.New("telegram.send_rate_per_sec must be >= 0")
	}

	raw := strings.TrimSpace(c.Source.URL)
	if raw == "" {
		return errors.New("source.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.url: invalid URL %q", raw)
	}
	if _, err := ParseDurationField("source.timeout", c.Source.Timeout); err != nil {
		return err
	}

	if err := c.Poll.validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	return nil
}

func (p *PollConfig) validate() error {
	if _, err := ParseDurationField("poll.initial_delay", p.InitialDelay); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case "", PollModeFixed:
		every, err := ParseDurationField("poll.every", p.Every)
		if err != nil {
			return err
		}
		if every <= 0 {
			return errors.New("poll.every must be a positive duration")
		}
	case PollModeJitter:
		minD, err := ParseDurationField("poll.min", p.Min)
		if err != nil {
			return err
		}
		maxD, err := ParseDurationField("poll.max", p.Max)
		if err != nil {
			return err
		}
		if minD <= 0 || maxD <= 0 {
			return errors.New("poll.min and poll.max must be positive durations")
		}
		if minD > maxD {
			return errors.New("poll.min must be <= poll.max")
		}
	case PollModeCron:
		spec := strings.TrimSpace(p.Spec)
		if spec == "" {
			return errors.New("poll.spec is required for cron mode")
		}
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("poll.spec: %w", err)
		}
	default:
		return fmt.Errorf("poll.mode: unknown mode %q (want fixed, jitter or cron)", p.Mode)
	}
	return nil
}

// PollSettings is PollConfig with durations parsed and the mode normalized.
type PollSettings struct {
	Mode         string
	Every        time.Duration
	Min          time.Duration
	Max          time.Duration
	Spec         string
	InitialDelay time.Duration
}

// Settings resolves the raw poll config. Unparseable durations come back as
// zero; Validate is expected to have rejected those before anything consumes
// the settings.
func (p PollConfig) Settings() PollSettings {
	mode := strings.ToLower(strings.TrimSpace(p.Mode))
	if mode == "" {
		mode = PollModeFixed
	}
	every, _ := ParseDurationField("poll.every", p.Every)
	minD, _ := ParseDurationField("poll.min", p.Min)
	maxD, _ := ParseDurationField("poll.max", p.Max)
	delay, _ := ParseDurationField("poll.initial_delay", p.InitialDelay)
	return PollSettings{
		Mode:         mode,
		Every:        every,
		Min:          minD,
		Max:          maxD,
		Spec:         strings.TrimSpace(p.Spec),
		InitialDelay: delay,
	}
}

// EffectiveTimeout resolves the upstream fetch timeout.
func (s SourceConfig) EffectiveTimeout() time.Duration {
	d, err := ParseDurationField("source.timeout", s.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}
