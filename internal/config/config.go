package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"rfstore/internal/logger"
)

// Duration is a time.Duration written as a string ("12s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// CoordinatorConfig holds the coordinator settings.
type CoordinatorConfig struct {
	ListenAddr       string `toml:"listen_addr"`
	ParticipantsFile string `toml:"participants_file"`
	// Participants is an inline "name=host:port,..." list, used when no
	// participants file is given.
	Participants string `toml:"participants"`
	LogPath      string `toml:"log_path"`

	PrepareTimeout  Duration `toml:"prepare_timeout"`
	DecisionTimeout Duration `toml:"decision_timeout"`
	ReadTimeout     Duration `toml:"read_timeout"`
	// RecoveryWait bounds how long a status query waits for an undecided
	// transaction before aborting it.
	RecoveryWait      Duration `toml:"recovery_wait"`
	FanoutConcurrency int      `toml:"fanout_concurrency"`
	// ProbeInterval is how often participants are health-checked; zero
	// disables probing. DeadAfter is how long an unreachable participant
	// stays suspect before reads avoid it.
	ProbeInterval Duration `toml:"probe_interval"`
	DeadAfter     Duration `toml:"dead_after"`

	MetricsAddr string        `toml:"metrics_addr"`
	Log         logger.Config `toml:"log"`
}

// NewDefaultCoordinatorConfig returns the coordinator defaults.
func NewDefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		ListenAddr:        ":9090",
		LogPath:           "coordinator-txlog.db",
		PrepareTimeout:    Duration{12 * time.Second},
		DecisionTimeout:   Duration{12 * time.Second},
		ReadTimeout:       Duration{12 * time.Second},
		RecoveryWait:      Duration{5 * time.Second},
		FanoutConcurrency: 1,
		ProbeInterval:     Duration{2 * time.Second},
		DeadAfter:         Duration{10 * time.Second},
		Log:               logger.Config{Level: "info", Format: "console"},
	}
}

// Validate checks the coordinator settings.
func (c *CoordinatorConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.LogPath == "" {
		return errors.New("log_path is required")
	}
	if c.ParticipantsFile == "" && c.Participants == "" {
		return errors.New("one of participants_file or participants is required")
	}
	if c.FanoutConcurrency < 1 {
		return fmt.Errorf("fanout_concurrency must be at least 1, got %d", c.FanoutConcurrency)
	}
	for name, d := range map[string]Duration{
		"prepare_timeout":  c.PrepareTimeout,
		"decision_timeout": c.DecisionTimeout,
		"read_timeout":     c.ReadTimeout,
		"recovery_wait":    c.RecoveryWait,
		"probe_interval":   c.ProbeInterval,
		"dead_after":       c.DeadAfter,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// LoadParticipants returns the participant set from the participants file,
// or from the inline list when no file is set.
func (c *CoordinatorConfig) LoadParticipants() ([]Participant, error) {
	var (
		participants []Participant
		err          error
	)
	if c.ParticipantsFile != "" {
		participants, err = LoadParticipants(c.ParticipantsFile)
	} else {
		participants, err = ParseParticipantList(c.Participants)
	}
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, errors.New("no participants configured")
	}
	return participants, nil
}

// ParticipantConfig holds a participant's settings.
type ParticipantConfig struct {
	ID         string `toml:"id"`
	ListenAddr string `toml:"listen_addr"`
	// AdvertiseHost is the host the coordinator uses to call back during
	// recovery.
	AdvertiseHost string `toml:"advertise_host"`
	DataDir       string `toml:"data_dir"`
	// LogPath defaults to a file inside DataDir.
	LogPath string `toml:"log_path"`
	// CoordinatorAddr is only needed for recovery. When empty and pending
	// transactions exist, the operator is prompted for it.
	CoordinatorAddr string   `toml:"coordinator_addr"`
	RecoveryTimeout Duration `toml:"recovery_timeout"`

	MetricsAddr string        `toml:"metrics_addr"`
	Log         logger.Config `toml:"log"`
}

// DefaultLogName is the transaction log file name inside a data directory.
const DefaultLogName = ".rfstore-txlog.db"

// NewDefaultParticipantConfig returns the participant defaults.
func NewDefaultParticipantConfig() *ParticipantConfig {
	return &ParticipantConfig{
		ListenAddr:      ":9091",
		AdvertiseHost:   "127.0.0.1",
		DataDir:         ".",
		RecoveryTimeout: Duration{30 * time.Second},
		Log:             logger.Config{Level: "info", Format: "console"},
	}
}

// Validate checks the participant settings and fills in LogPath.
func (c *ParticipantConfig) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.RecoveryTimeout.Duration < 0 {
		return errors.New("recovery_timeout must not be negative")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.DataDir, DefaultLogName)
	}
	return nil
}

// LoadCoordinatorConfig decodes the TOML file at path over the defaults.
// An empty path returns the defaults.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	cfg := NewDefaultCoordinatorConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadParticipantConfig decodes the TOML file at path over the defaults.
// An empty path returns the defaults.
func LoadParticipantConfig(path string) (*ParticipantConfig, error) {
	cfg := NewDefaultParticipantConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, v any) error {
	if path == "" {
		return nil
	}
	md, err := toml.DecodeFile(path, v)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}
	return nil
}
