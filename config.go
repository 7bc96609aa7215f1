package goTrust

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/MrEthical07/goTrust/internal/audit"
	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/internal/logging"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/notify"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
)

// Config is the complete engine configuration. The Builder freezes a copy
// on Build; later changes to the caller's value have no effect.
type Config struct {
	// Region names the deployment region stamped on sessions, audit records
	// and cross-region events.
	Region string `koanf:"region"`

	Session SessionConfig `koanf:"session"`
	Risk    RiskConfig    `koanf:"risk"`
	MFA     MFAConfig     `koanf:"mfa"`
	Account AccountConfig `koanf:"account"`
	Sync    SyncConfig    `koanf:"sync"`
	Audit   audit.Config  `koanf:"audit"`
	Notify  NotifyConfig  `koanf:"notify"`
	Metrics MetricsConfig `koanf:"metrics"`
	Sweep   SweepConfig   `koanf:"sweep"`

	// The remaining sections are consumed by the service binary only.
	Redis   RedisConfig    `koanf:"redis"`
	Store   StoreConfig    `koanf:"store"`
	Logging logging.Config `koanf:"logging"`
	Ops     OpsConfig      `koanf:"ops"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig holds the policy table. Identities are mapped onto a class
// by the classifier given to the Builder; unknown classes get Default.
type SessionConfig struct {
	Default session.Policy            `koanf:"default"`
	Classes map[string]session.Policy `koanf:"classes"`
	// MirrorPrefix namespaces the Redis mirror keys.
	MirrorPrefix string `koanf:"mirror_prefix"`
}

/*
====================================
RISK CONFIG
====================================
*/

// HourStrategy names the unusual-hour detector.
type HourStrategy string

const (
	// HourStrategyWindow flags a fixed UTC window.
	HourStrategyWindow HourStrategy = "window"
	// HourStrategyBaseline compares against the identity's own login hours.
	HourStrategyBaseline HourStrategy = "baseline"
)

// RiskConfig tunes scoring and history loading.
type RiskConfig struct {
	risk.Config `koanf:",squash,flatten"`

	HourStrategy HourStrategy `koanf:"hour_strategy"`
	UnusualStart int          `koanf:"unusual_start"`
	UnusualEnd   int          `koanf:"unusual_end"`
	// ProxyCIDRs seeds the VPN/proxy prefix detector.
	ProxyCIDRs []string `koanf:"proxy_cidrs"`

	HistoryWindow time.Duration `koanf:"history_window"`
	HistoryLimit  int           `koanf:"history_limit"`
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig configures TOTP, pending enrollment and backup codes.
type MFAConfig struct {
	TOTP mfa.TOTPConfig `koanf:"totp"`

	EnrollmentTTL     time.Duration `koanf:"enrollment_ttl"`
	MaxEnrollAttempts int           `koanf:"max_enroll_attempts"`

	BackupCodeCount  int           `koanf:"backup_code_count"`
	BackupCodeLength int           `koanf:"backup_code_length"`
	BackupCodeTTL    time.Duration `koanf:"backup_code_ttl"`

	TOTPAttempts   limiters.AttemptConfig `koanf:"totp_attempts"`
	BackupAttempts limiters.AttemptConfig `koanf:"backup_attempts"`

	// SecretKey is the master key TOTP secrets are sealed with at rest.
	SecretKey []byte `koanf:"secret_key"`
}

// AccountConfig configures account locks and the failure window.
type AccountConfig struct {
	LockDuration  time.Duration `koanf:"lock_duration"`
	FailureWindow time.Duration `koanf:"failure_window"`
	RedisPrefix   string        `koanf:"redis_prefix"`
}

/*
====================================
SYNC CONFIG
====================================
*/

// SyncConfig configures cross-region propagation.
type SyncConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Peers       []string `koanf:"peers"`
	TopicPrefix string   `koanf:"topic_prefix"`

	KeyID      string            `koanf:"key_id"`
	SigningKey []byte            `koanf:"signing_key"`
	VerifyKeys map[string][]byte `koanf:"verify_keys"`
	MaxAge     time.Duration     `koanf:"max_age"`

	QueueSize     int                      `koanf:"queue_size"`
	KindQueueSize int                      `koanf:"kind_queue_size"`
	Breaker       regionsync.BreakerConfig `koanf:"breaker"`
	NATS          regionsync.NATSConfig    `koanf:"nats"`
}

// NotifyConfig configures security alerts.
type NotifyConfig struct {
	Enabled  bool                  `koanf:"enabled"`
	Throttle notify.ThrottleConfig `koanf:"throttle"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"latency_histograms"`
}

// SweepConfig configures the reconciliation pass.
type SweepConfig struct {
	Interval        time.Duration `koanf:"interval"`
	MaxTerminations int           `koanf:"max_terminations"`
}

/*
====================================
SERVICE CONFIG
====================================
*/

// RedisConfig describes the shared Redis deployment.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	KeyPrefix    string        `koanf:"key_prefix"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// StoreConfig selects the durable backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // badger or postgres

	BadgerPath       string        `koanf:"badger_path"`
	HistoryRetention time.Duration `koanf:"history_retention"`
	GCInterval       time.Duration `koanf:"gc_interval"`

	PostgresDSN     string        `koanf:"postgres_dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
}

// OpsConfig configures the health and metrics listener.
type OpsConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns a single-region configuration with sync disabled.
func DefaultConfig() Config {
	return Config{
		Region: "local",
		Session: SessionConfig{
			Default:      session.DefaultPolicy(),
			MirrorPrefix: "gt",
		},
		Risk: RiskConfig{
			Config:        risk.DefaultConfig(),
			HourStrategy:  HourStrategyWindow,
			UnusualStart:  2,
			UnusualEnd:    5,
			HistoryWindow: 30 * 24 * time.Hour,
			HistoryLimit:  500,
		},
		MFA: MFAConfig{
			TOTP:              mfa.DefaultTOTPConfig(),
			EnrollmentTTL:     10 * time.Minute,
			MaxEnrollAttempts: 5,
			BackupCodeCount:   mfa.DefaultBackupCodeCount,
			BackupCodeLength:  10,
			TOTPAttempts:      limiters.AttemptConfig{MaxAttempts: 5, Cooldown: time.Minute},
			BackupAttempts:    limiters.AttemptConfig{MaxAttempts: 5, Cooldown: 10 * time.Minute},
		},
		Account: AccountConfig{
			LockDuration:  30 * time.Minute,
			FailureWindow: time.Hour,
			RedisPrefix:   "gt",
		},
		Sync: SyncConfig{
			TopicPrefix:   regionsync.DefaultTopicPrefix,
			MaxAge:        5 * time.Minute,
			QueueSize:     1024,
			KindQueueSize: 256,
			Breaker: regionsync.BreakerConfig{
				FailureThreshold: 5,
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
			},
			NATS: regionsync.NATSConfig{
				URL:              "nats://127.0.0.1:4222",
				MaxReconnects:    -1,
				ReconnectWait:    2 * time.Second,
				SubscribersCount: 1,
				CloseTimeout:     5 * time.Second,
			},
		},
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
			UrgentWait: 25 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Enabled:  true,
			Throttle: notify.DefaultThrottleConfig(),
		},
		Metrics: MetricsConfig{Enabled: true},
		Sweep: SweepConfig{
			Interval:        time.Minute,
			MaxTerminations: 1000,
		},
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			KeyPrefix:    "gt",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:           "badger",
			BadgerPath:       "data/gotrust",
			HistoryRetention: 90 * 24 * time.Hour,
			GCInterval:       10 * time.Minute,
			QueryTimeout:     2 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Ops: OpsConfig{
			Addr:            ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.Classes = maps.Clone(cfg.Session.Classes)
	out.Risk.HighRiskCountries = slices.Clone(cfg.Risk.HighRiskCountries)
	out.Risk.ProxyCIDRs = slices.Clone(cfg.Risk.ProxyCIDRs)
	out.MFA.SecretKey = cloneBytes(cfg.MFA.SecretKey)
	out.Sync.Peers = slices.Clone(cfg.Sync.Peers)
	out.Sync.SigningKey = cloneBytes(cfg.Sync.SigningKey)
	if cfg.Sync.VerifyKeys != nil {
		out.Sync.VerifyKeys = make(map[string][]byte, len(cfg.Sync.VerifyKeys))
		for k, v := range cfg.Sync.VerifyKeys {
			out.Sync.VerifyKeys[k] = cloneBytes(v)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration the engine depends on. Service-only
// sections are validated by the binary when it opens those backends.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("Region must not be empty")
	}

	// Session
	if _, err := c.Session.Default.Compile(); err != nil {
		return fmt.Errorf("Session default policy: %w", err)
	}
	for name, p := range c.Session.Classes {
		if name == "" {
			return errors.New("Session policy class name must not be empty")
		}
		if _, err := p.Compile(); err != nil {
			return fmt.Errorf("Session policy %q: %w", name, err)
		}
	}

	// Risk
	if err := c.Risk.Config.Validate(); err != nil {
		return err
	}
	switch c.Risk.HourStrategy {
	case HourStrategyWindow, "":
		if c.Risk.UnusualStart < 0 || c.Risk.UnusualStart > 23 || c.Risk.UnusualEnd < 0 || c.Risk.UnusualEnd > 23 {
			return errors.New("Risk unusual hour window must be within [0,23]")
		}
	case HourStrategyBaseline:
	default:
		return fmt.Errorf("Risk unknown hour strategy %q", c.Risk.HourStrategy)
	}
	if _, err := risk.ParsePrefixes(c.Risk.ProxyCIDRs); err != nil {
		return fmt.Errorf("Risk proxy ranges: %w", err)
	}
	if c.Risk.HistoryWindow <= 0 {
		return errors.New("Risk HistoryWindow must be > 0")
	}
	if c.Risk.HistoryLimit < 0 {
		return errors.New("Risk HistoryLimit must be >= 0")
	}

	// MFA
	if err := c.MFA.TOTP.Validate(); err != nil {
		return err
	}
	if c.MFA.EnrollmentTTL <= 0 || c.MFA.EnrollmentTTL > time.Hour {
		return errors.New("MFA EnrollmentTTL must be in (0,1h]")
	}
	if c.MFA.MaxEnrollAttempts <= 0 {
		return errors.New("MFA MaxEnrollAttempts must be > 0")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeCount > 50 {
		return errors.New("MFA BackupCodeCount must be in [1,50]")
	}
	if c.MFA.BackupCodeLength < 8 {
		return errors.New("MFA BackupCodeLength must be >= 8")
	}
	if c.MFA.BackupCodeTTL < 0 {
		return errors.New("MFA BackupCodeTTL must be >= 0")
	}
	if len(c.MFA.SecretKey) < 32 {
		return errors.New("MFA SecretKey must be at least 32 bytes")
	}

	// Account
	if c.Account.LockDuration <= 0 {
		return errors.New("Account LockDuration must be > 0")
	}
	if c.Account.FailureWindow < c.Risk.BruteForceWindow {
		return errors.New("Account FailureWindow must cover Risk BruteForceWindow")
	}

	// Sync
	if c.Sync.Enabled {
		if len(c.Sync.SigningKey) < 32 {
			return errors.New("Sync SigningKey must be at least 32 bytes")
		}
		if c.Sync.MaxAge <= 0 {
			return errors.New("Sync MaxAge must be > 0")
		}
		if slices.Contains(c.Sync.Peers, c.Region) {
			return errors.New("Sync Peers must not contain the local region")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Sweep
	if c.Sweep.Interval < 0 || c.Sweep.MaxTerminations < 0 {
		return errors.New("Sweep Interval and MaxTerminations must be >= 0")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics latency histograms require metrics to be enabled")
	}
	return nil
}
