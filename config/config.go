// Package config holds the validated configuration surface of the consensus
// core. Validation runs once at startup and rejects parameter combinations
// that are mutually inconsistent with the safety argument.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/alpenlabs/alpenglow/model"
)

// Config are the protocol parameters of one node.
type Config struct {
	// FastThreshold is the stake fraction required for a fast certificate.
	FastThreshold float64 `mapstructure:"fast-threshold"`
	// SlowThreshold is the stake fraction required for slow and skip
	// certificates.
	SlowThreshold float64 `mapstructure:"slow-threshold"`
	// ByzantineBound is the maximum tolerated Byzantine stake fraction.
	ByzantineBound float64 `mapstructure:"byzantine-bound"`
	// OfflineBound is the maximum tolerated offline stake fraction.
	OfflineBound float64 `mapstructure:"offline-bound"`

	// DataShreds (K) and TotalShreds (N) are the erasure coding parameters:
	// any K of the N fragments reconstruct a block.
	DataShreds  uint16 `mapstructure:"data-shreds"`
	TotalShreds uint16 `mapstructure:"total-shreds"`
	// ShredSize is the fixed fragment payload size in bytes.
	ShredSize int `mapstructure:"shred-size"`

	// ViewTimeout is the initial duration of a view before the fast path
	// closes; it backs off on consecutive failed views.
	ViewTimeout time.Duration `mapstructure:"view-timeout"`
	// SlotDuration bounds how long a slot's pending state is retained.
	SlotDuration time.Duration `mapstructure:"slot-duration"`
	// RepairGracePeriod is how long a validator waits for passively
	// delivered shreds before requesting repair.
	RepairGracePeriod time.Duration `mapstructure:"repair-grace-period"`

	// RelayFanout is the number of relays assigned per shred index.
	RelayFanout int `mapstructure:"relay-fanout"`
	// RelayPolicy selects the relay assignment policy: "stake-weighted"
	// (default) or "uniform".
	RelayPolicy string `mapstructure:"relay-policy"`
	// MaxHops bounds shred forwarding depth.
	MaxHops uint8 `mapstructure:"max-hops"`

	// CodingWorkers is the size of the encode/decode worker pool.
	CodingWorkers int `mapstructure:"coding-workers"`
	// InboxCapacity bounds the coordinator's inbound message queue.
	InboxCapacity int `mapstructure:"inbox-capacity"`
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		FastThreshold:     0.80,
		SlowThreshold:     0.60,
		ByzantineBound:    0.20,
		OfflineBound:      0.20,
		DataShreds:        16,
		TotalShreds:       24,
		ShredSize:         1024,
		ViewTimeout:       1200 * time.Millisecond,
		SlotDuration:      4 * time.Second,
		RepairGracePeriod: 200 * time.Millisecond,
		RelayFanout:       3,
		RelayPolicy:       "stake-weighted",
		MaxHops:           2,
		CodingWorkers:     4,
		InboxCapacity:     10_000,
	}
}

// Load reads configuration from the optional file path and from environment
// variables prefixed ALPENGLOW_, layered over the defaults, and validates the
// result.
func Load(path string) (Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("fast-threshold", def.FastThreshold)
	v.SetDefault("slow-threshold", def.SlowThreshold)
	v.SetDefault("byzantine-bound", def.ByzantineBound)
	v.SetDefault("offline-bound", def.OfflineBound)
	v.SetDefault("data-shreds", def.DataShreds)
	v.SetDefault("total-shreds", def.TotalShreds)
	v.SetDefault("shred-size", def.ShredSize)
	v.SetDefault("view-timeout", def.ViewTimeout)
	v.SetDefault("slot-duration", def.SlotDuration)
	v.SetDefault("repair-grace-period", def.RepairGracePeriod)
	v.SetDefault("relay-fanout", def.RelayFanout)
	v.SetDefault("relay-policy", def.RelayPolicy)
	v.SetDefault("max-hops", def.MaxHops)
	v.SetDefault("coding-workers", def.CodingWorkers)
	v.SetDefault("inbox-capacity", def.InboxCapacity)

	v.SetEnvPrefix("alpenglow")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, model.NewConfigurationErrorf("could not read config file %s: %s", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, model.NewConfigurationErrorf("could not unmarshal config: %s", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the internal consistency of the configuration against the
// safety argument. It reports every violation, not just the first.
func (c Config) Validate() error {
	var errs error

	if c.FastThreshold <= 0 || c.FastThreshold > 1 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"fast threshold must be in (0, 1], got %v", c.FastThreshold))
	}
	if c.SlowThreshold <= 0.5 || c.SlowThreshold > 1 {
		// above one half so that two slow certificates in one view cannot
		// back different blocks
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"slow threshold must be in (0.5, 1], got %v", c.SlowThreshold))
	}
	if c.FastThreshold <= c.SlowThreshold {
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"fast threshold %v must exceed slow threshold %v", c.FastThreshold, c.SlowThreshold))
	}
	if c.ByzantineBound < 0 || c.OfflineBound < 0 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"fault bounds must be non-negative, got byzantine=%v offline=%v", c.ByzantineBound, c.OfflineBound))
	}

	// Slot-level safety: a fast quorum and a slow quorum for different blocks
	// must overlap in more honest stake than the adversary controls.
	// Overlap >= fast + slow - 1; honest overlap >= overlap - byzantine,
	// which must exceed the stake the adversary can double-spend: byzantine.
	if c.FastThreshold+c.SlowThreshold-1 < 2*c.ByzantineBound {
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"thresholds (fast=%v, slow=%v) do not tolerate byzantine bound %v: need fast+slow-1 >= 2*byzantine",
			c.FastThreshold, c.SlowThreshold, c.ByzantineBound))
	}
	// Liveness: honest online stake must be able to reach the slow quorum.
	if c.SlowThreshold > 1-c.ByzantineBound-c.OfflineBound {
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"slow threshold %v unreachable with byzantine=%v and offline=%v stake faulty",
			c.SlowThreshold, c.ByzantineBound, c.OfflineBound))
	}

	params := model.CodingParams{DataShreds: c.DataShreds, TotalShreds: c.TotalShreds}
	if err := params.Validate(); err != nil {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("invalid coding parameters: %s", err))
	} else if float64(c.DataShreds) > float64(c.TotalShreds)*(1-c.ByzantineBound) {
		// Byzantine relays may withhold their fragments entirely; the shreds
		// relayed by honest stake alone must still reach K.
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"coding parameters K=%d N=%d leave fewer than K fragments with honest relays under byzantine bound %v",
			c.DataShreds, c.TotalShreds, c.ByzantineBound))
	}
	if c.ShredSize <= 0 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("shred size must be positive, got %d", c.ShredSize))
	}

	if c.ViewTimeout <= 0 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("view timeout must be positive, got %v", c.ViewTimeout))
	}
	if c.SlotDuration <= 0 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("slot duration must be positive, got %v", c.SlotDuration))
	}
	if c.RepairGracePeriod < 0 || c.RepairGracePeriod >= c.SlotDuration {
		errs = multierr.Append(errs, model.NewConfigurationErrorf(
			"repair grace period %v must be within [0, slot duration %v)", c.RepairGracePeriod, c.SlotDuration))
	}

	if c.RelayFanout < 2 {
		// a single relay is a single point of censorship for its index
		errs = multierr.Append(errs, model.NewConfigurationErrorf("relay fanout must be at least 2, got %d", c.RelayFanout))
	}
	if c.RelayPolicy != "stake-weighted" && c.RelayPolicy != "uniform" {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("unknown relay policy %q", c.RelayPolicy))
	}
	if c.MaxHops < 1 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("max hops must be at least 1, got %d", c.MaxHops))
	}
	if c.CodingWorkers < 1 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("coding worker count must be positive, got %d", c.CodingWorkers))
	}
	if c.InboxCapacity < 1 {
		errs = multierr.Append(errs, model.NewConfigurationErrorf("inbox capacity must be positive, got %d", c.InboxCapacity))
	}

	return errs
}
