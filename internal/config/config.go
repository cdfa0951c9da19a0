// Package config loads the node configuration from YAML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"meshworld.ai/internal/location"
	"meshworld.ai/internal/sim/body"
	"meshworld.ai/internal/sim/spatial"
)

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("config.schema.json", schemaJSON)

// Default on-disk locations, shared with the admin tool.
var (
	DefaultSQLitePath = filepath.Join("data", "directory.db")
	DefaultTickLogDir = filepath.Join("data", "ticklog")
)

type Config struct {
	NodeID  string `yaml:"node_id"`
	WorldID string `yaml:"world_id"`

	// Exactly one of TickRateHz and TickPeriodMs may be set.
	TickRateHz   int `yaml:"tick_rate_hz"`
	TickPeriodMs int `yaml:"tick_period_ms"`

	NotificationRadius float64 `yaml:"notification_radius"`
	MovementEpsilon    float64 `yaml:"movement_epsilon"`
	DefaultRadius      float64 `yaml:"default_radius"`

	// Nil means players only; an empty object matches every object.
	RecipientTags *RecipientTags `yaml:"recipient_tags"`

	Zones []ZoneSpec `yaml:"zones"`

	Location    LocationConfig `yaml:"location"`
	MailboxSize int            `yaml:"mailbox_size"`
	TickLog     TickLogConfig  `yaml:"ticklog"`
}

type RecipientTags struct {
	All  []string `yaml:"all"`
	Any  []string `yaml:"any"`
	None []string `yaml:"none"`
}

type ZoneSpec struct {
	ID           uint32 `yaml:"id"`
	Name         string `yaml:"name"`
	CapacityHint int    `yaml:"capacity_hint"`
}

type LocationConfig struct {
	Backend               string `yaml:"backend"`
	SQLitePath            string `yaml:"sqlite_path"`
	PropagationIntervalMs int    `yaml:"propagation_interval_ms"`
	ResolveAttempts       int    `yaml:"resolve_attempts"`
	ResolveBackoffMs      int    `yaml:"resolve_backoff_ms"`
	ResolveMaxBackoffMs   int    `yaml:"resolve_max_backoff_ms"`
}

type TickLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Load reads path, validates it against the embedded schema and applies
// defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		var c Config
		c.applyDefaults()
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

func Parse(b []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Config{}, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := schema.Validate(doc); err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			c.NodeID = h
		} else {
			c.NodeID = "node-1"
		}
	}
	if c.WorldID == "" {
		c.WorldID = "default"
	}
	if c.TickRateHz <= 0 && c.TickPeriodMs <= 0 {
		c.TickRateHz = 10
	}
	if c.NotificationRadius <= 0 {
		c.NotificationRadius = 32
	}
	if c.MovementEpsilon <= 0 {
		c.MovementEpsilon = 1e-4
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = 0.5
	}
	if c.RecipientTags == nil {
		c.RecipientTags = &RecipientTags{Any: []string{"player"}}
	}
	if len(c.Zones) == 0 {
		c.Zones = []ZoneSpec{{ID: 1, Name: "default", CapacityHint: 1024}}
	}
	if c.Location.Backend == "" {
		c.Location.Backend = "local"
	}
	if c.Location.Backend == "sqlite" && c.Location.SQLitePath == "" {
		c.Location.SQLitePath = DefaultSQLitePath
	}
	if c.Location.PropagationIntervalMs <= 0 {
		c.Location.PropagationIntervalMs = 250
	}
	if c.Location.ResolveAttempts <= 0 {
		c.Location.ResolveAttempts = 4
	}
	if c.Location.ResolveBackoffMs <= 0 {
		c.Location.ResolveBackoffMs = 5
	}
	if c.Location.ResolveMaxBackoffMs <= 0 {
		c.Location.ResolveMaxBackoffMs = 50
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 256
	}
	if c.TickLog.Dir == "" {
		c.TickLog.Dir = DefaultTickLogDir
	}
}

// Validate checks what the schema cannot express.
func (c *Config) Validate() error {
	seen := map[uint32]bool{}
	for _, z := range c.Zones {
		if z.ID == 0 {
			return fmt.Errorf("zone id 0 is reserved")
		}
		if seen[z.ID] {
			return fmt.Errorf("duplicate zone id %d", z.ID)
		}
		seen[z.ID] = true
	}
	if c.Location.ResolveMaxBackoffMs < c.Location.ResolveBackoffMs {
		return fmt.Errorf("location.resolve_max_backoff_ms (%d) < resolve_backoff_ms (%d)", c.Location.ResolveMaxBackoffMs, c.Location.ResolveBackoffMs)
	}
	return nil
}

// TickPeriod is the fixed simulation step.
func (c *Config) TickPeriod() time.Duration {
	if c.TickPeriodMs > 0 {
		return time.Duration(c.TickPeriodMs) * time.Millisecond
	}
	return time.Second / time.Duration(c.TickRateHz)
}

func (c *Config) RetryPolicy() location.RetryPolicy {
	return location.RetryPolicy{
		Attempts:   c.Location.ResolveAttempts,
		Backoff:    time.Duration(c.Location.ResolveBackoffMs) * time.Millisecond,
		MaxBackoff: time.Duration(c.Location.ResolveMaxBackoffMs) * time.Millisecond,
	}
}

func (c *Config) PropagationInterval() time.Duration {
	return time.Duration(c.Location.PropagationIntervalMs) * time.Millisecond
}

var tagBits = map[string]uint32{
	"player":     body.TagPlayer,
	"npc":        body.TagNPC,
	"projectile": body.TagProjectile,
	"static":     body.TagStatic,
}

func maskOf(names []string) uint32 {
	var m uint32
	for _, n := range names {
		m |= tagBits[n]
	}
	return m
}

// RecipientFilter converts the tag names into a spatial filter.
func (c *Config) RecipientFilter() spatial.TagFilter {
	if c.RecipientTags == nil {
		return spatial.TagFilter{Any: body.TagPlayer}
	}
	return spatial.TagFilter{
		All:  maskOf(c.RecipientTags.All),
		Any:  maskOf(c.RecipientTags.Any),
		None: maskOf(c.RecipientTags.None),
	}
}
