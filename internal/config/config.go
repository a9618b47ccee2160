// Package config implements layered configuration (defaults -> config file
// -> env; Load applies no command-line flag layer) plus a watched peer list,
// mirroring the teacher's
// internal/config (local_config.go's direct yaml.v3 read for the simple
// machine-local file, spf13/viper for everything else) and fsnotify-based
// hot reload.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/confidence"
)

// Config is the daemon's resolved configuration.
type Config struct {
	MachineID       string               `mapstructure:"machine_id"`
	DataDir         string               `mapstructure:"data_dir"`
	SocketPath      string               `mapstructure:"socket_path"`
	TCPAddr         string               `mapstructure:"tcp_addr"`
	TCPToken        string               `mapstructure:"tcp_token"`
	NATSPort        int                  `mapstructure:"nats_port"`
	RetentionDays   int                  `mapstructure:"retention_days"`
	DigestInterval  time.Duration        `mapstructure:"digest_interval"`
	ConfidenceWeights confidence.Weights `mapstructure:"confidence_weights"`
	QuarantineWebhookURL string          `mapstructure:"quarantine_webhook_url"`
}

// Default returns the zero-configuration defaults, mirroring the
// teacher's pattern of a fully-usable Config before any file is read.
func Default() Config {
	return Config{
		DataDir:           "./collective-data",
		SocketPath:        "/tmp/collective.sock",
		RetentionDays:     30,
		DigestInterval:    60 * time.Second,
		ConfidenceWeights: confidence.DefaultWeights(),
	}
}

// Load resolves Config from defaults, then configPath (yaml or toml by
// extension) if it exists, then environment variables prefixed
// COLLECTIVE_, via spf13/viper — the teacher's ambient config stack.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("COLLECTIVE")
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("machine_id", cfg.MachineID)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("socket_path", cfg.SocketPath)
	v.SetDefault("tcp_addr", cfg.TCPAddr)
	v.SetDefault("nats_port", cfg.NATSPort)
	v.SetDefault("retention_days", cfg.RetentionDays)
	v.SetDefault("digest_interval", cfg.DigestInterval)
	v.SetDefault("quarantine_webhook_url", cfg.QuarantineWebhookURL)
}

// Retention converts RetentionDays to a time.Duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// WriteSnapshot dumps the resolved Config as TOML, for operators diffing
// what a machine actually resolved against its own collective.yaml/env.
// Uses BurntSushi/toml the way the teacher's formula parser round-trips
// its own small structured files.
func WriteSnapshot(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create snapshot %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode snapshot %s: %w", path, err)
	}
	return nil
}

// ReadSnapshot loads a Config previously written by WriteSnapshot.
func ReadSnapshot(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode snapshot %s: %w", path, err)
	}
	return cfg, nil
}

// PeerEntry is one line of peers.yaml: the flat configured peer list
// (SPEC_FULL §4.4).
type PeerEntry struct {
	MachineID string `yaml:"machine_id"`
	Endpoint  string `yaml:"endpoint"`
}

// PeerList reads/watches peers.yaml directly with yaml.v3, mirroring the
// teacher's local_config.go direct-read style for small machine-local
// files (rather than routing a trivial flat list through viper).
type PeerList struct {
	path string

	mu    sync.RWMutex
	peers []PeerEntry

	watcher *fsnotify.Watcher
	onChange func([]PeerEntry)
}

// LoadPeerList reads path once, tolerating a missing file as an empty list.
func LoadPeerList(path string) (*PeerList, error) {
	pl := &PeerList{path: path}
	if err := pl.reload(); err != nil {
		return nil, err
	}
	return pl, nil
}

func (p *PeerList) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.peers = nil
			p.mu.Unlock()
			return nil
		}
		return fmt.Errorf("config: read peers file %s: %w", p.path, err)
	}
	var peers []PeerEntry
	if err := yaml.Unmarshal(data, &peers); err != nil {
		return fmt.Errorf("config: parse peers file %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.peers = peers
	p.mu.Unlock()
	return nil
}

// Peers returns the current snapshot.
func (p *PeerList) Peers() []PeerEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PeerEntry, len(p.peers))
	copy(out, p.peers)
	return out
}

// Watch starts an fsnotify watcher on the peer list's file, invoking
// onChange with the reloaded list whenever it changes on disk — the
// teacher's daemon does the same for config.yaml.
func (p *PeerList) Watch(onChange func([]PeerEntry)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(p.path); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", p.path, err)
	}
	p.watcher = w
	p.onChange = onChange

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := p.reload(); err == nil && p.onChange != nil {
						p.onChange(p.Peers())
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (p *PeerList) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
