// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/vault/internal/core/spatial/rtree"
	"github.com/zeusync/vault/internal/core/storage"
	"github.com/zeusync/vault/internal/core/storage/blob"
	"github.com/zeusync/vault/internal/core/vault"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Index       IndexConfig       `yaml:"index"`
	Regions     RegionsConfig     `yaml:"regions"`
	Zones       ZonesConfig       `yaml:"zones"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// ReadLimit caps the size of one inbound websocket frame.
	ReadLimit int64 `yaml:"read_limit" validate:"gt=0"`
	// SnapshotInterval is the PersistAll period. Zero disables the ticker.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" validate:"gte=0"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type StorageConfig struct {
	// Driver "disk" persists under Dir; "memory" keeps nothing across restarts.
	Driver      string `yaml:"driver" validate:"oneof=disk memory"`
	Dir         string `yaml:"dir" validate:"required_if=Driver disk"`
	BlobBackend string `yaml:"blob_backend" validate:"oneof=file badger"`
	InlineLimit int    `yaml:"inline_limit" validate:"gte=0"`
	ShardChars  int    `yaml:"shard_chars" validate:"gte=1,lte=8"`
	SyncWrites  bool   `yaml:"sync_writes"`
}

type PersistenceConfig struct {
	Mode    string `yaml:"mode" validate:"oneof=sync snapshot"`
	Workers int    `yaml:"workers" validate:"gte=1,lte=256"`
}

type IndexConfig struct {
	MaxEntries int `yaml:"max_entries" validate:"gte=4,lte=1024"`
}

type RegionsConfig struct {
	KeyPrecision int `yaml:"key_precision" validate:"gte=0,lte=12"`
}

type ZonesConfig struct {
	// Follow drives the tracked point from player events: "off", "all" for
	// every player, or one player's uuid.
	Follow string       `yaml:"follow" validate:"required,oneof=off all|uuid"`
	Zones  []ZoneConfig `yaml:"zones" validate:"dive"`
}

type ZoneConfig struct {
	Center [3]float64 `yaml:"center"`
	Radius float64    `yaml:"radius" validate:"gt=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             "127.0.0.1:8420",
			ReadLimit:        1 << 20,
			SnapshotInterval: 30 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      "disk",
			Dir:         "data",
			BlobBackend: storage.BlobFile,
			InlineLimit: 256,
			ShardChars:  blob.DefaultShardChars,
			SyncWrites:  true,
		},
		Persistence: PersistenceConfig{
			Mode:    string(vault.ModeSync),
			Workers: 4,
		},
		Index:   IndexConfig{MaxEntries: rtree.DefaultMaxEntries},
		Regions: RegionsConfig{KeyPrecision: 3},
		Zones:   ZonesConfig{Follow: "all"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StorageOptions maps the storage section onto storage.Options.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Dir:         c.Storage.Dir,
		BlobBackend: c.Storage.BlobBackend,
		InlineLimit: c.Storage.InlineLimit,
		ShardChars:  c.Storage.ShardChars,
		SyncWrites:  c.Storage.SyncWrites,
	}
}

// VaultConfig maps the persistence, index and regions sections onto
// vault.Config.
func (c Config) VaultConfig() vault.Config {
	return vault.Config{
		Mode:           vault.Mode(c.Persistence.Mode),
		MaxEntries:     c.Index.MaxEntries,
		KeyPrecision:   c.Regions.KeyPrecision,
		PersistWorkers: c.Persistence.Workers,
	}
}
