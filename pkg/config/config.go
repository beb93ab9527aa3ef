// Package config loads and hot-reloads cassette's TOML configuration:
// default builder/loader/deck settings and stage storage location.
//
// Grounded directly on the teacher's pkg/config/config.go: same
// LoadConfig/SaveConfig/SaveTemplateConfig shape, same XDG-aware default
// directory helpers, same go-toml/v2 marshaling — fields renamed from
// ergs' per-datasource fetch intervals to cassette's builder/loader/deck
// settings. Watching the file for edits (Watch) is grounded on
// cmd/serve.go's fsnotify usage, generalized into a reusable method
// instead of being inlined in one command's Action.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/sandwichfarm/cassette/internal/cassettelog"
)

//go:embed config.toml.sample
var configTemplate string

var log = cassettelog.ForService("config")

// Config is cassette's top-level configuration document.
type Config struct {
	StageDir string `toml:"stage_dir"`
	Builder  BuilderConfig `toml:"builder"`
	Loader   LoaderConfig  `toml:"loader"`
	Deck     DeckConfig    `toml:"deck"`
}

// BuilderConfig controls CassetteBuilder defaults (spec.md §4.7).
type BuilderConfig struct {
	OutputDir   string `toml:"output_dir"`
	Compress    bool   `toml:"compress"`
	GoBinary    string `toml:"go_binary"`
	WatchDebounce Duration `toml:"watch_debounce"`
}

// LoaderConfig selects and tunes the default HostLoader backend.
type LoaderConfig struct {
	// Backend is "wazero" (default) or "wasmtime".
	Backend string `toml:"backend"`
	Debug   bool   `toml:"debug"`
}

// DeckConfig controls the WebSocket relay front end.
type DeckConfig struct {
	Listen         string   `toml:"listen"`
	CassettePaths  []string `toml:"cassette_paths"`
	BroadcastBuf   int      `toml:"broadcast_buffer"`
}

// Duration wraps time.Duration for TOML text (un)marshaling, identical
// in shape to the teacher's own Duration wrapper.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default returns cassette's built-in configuration.
func Default() *Config {
	return &Config{
		StageDir: DefaultStageDir(),
		Builder: BuilderConfig{
			OutputDir:     "./cassettes",
			Compress:      false,
			GoBinary:      "go",
			WatchDebounce: Duration{500 * time.Millisecond},
		},
		Loader: LoaderConfig{
			Backend: "wazero",
		},
		Deck: DeckConfig{
			Listen:       "127.0.0.1:7979",
			BroadcastBuf: 32,
		},
	}
}

// Load reads configPath, falling back to Default() when the file does
// not exist.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
	}

	cfg := *Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling %s: %w", configPath, err)
	}

	if cfg.StageDir == "" {
		cfg.StageDir = DefaultStageDir()
	}
	if cfg.Builder.GoBinary == "" {
		cfg.Builder.GoBinary = "go"
	}
	if cfg.Loader.Backend == "" {
		cfg.Loader.Backend = "wazero"
	}

	return &cfg, nil
}

// Save writes c to configPath as TOML, creating parent directories.
func (c *Config) Save(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(configPath, data, 0o644)
}

// SaveTemplate writes the commented sample configuration to configPath,
// with its storage-directory placeholder substituted for c's StageDir.
func (c *Config) SaveTemplate(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	stageDir := c.StageDir
	if stageDir == "" {
		stageDir = DefaultStageDir()
	}
	rendered := strings.Replace(configTemplate, "/home/user/.local/share/cassette", stageDir, 1)
	return os.WriteFile(configPath, []byte(rendered), 0o644)
}

// Watch starts an fsnotify watcher on configPath and invokes onReload
// with the freshly-reloaded Config whenever the file is written. It
// returns a stop function the caller should defer. A failure to start
// the watcher is logged and treated as a no-op, matching the teacher's
// cmd/serve.go behavior of degrading gracefully rather than failing
// startup over a missing watch capability.
func Watch(configPath string, onReload func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("failed to create config watcher: %v", err)
		return func() {}, nil
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		log.Warnf("failed to watch %s: %v", configPath, err)
		return func() {}, nil
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != configPath {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(configPath)
				if err != nil {
					log.Warnf("reload failed: %v", err)
					continue
				}
				log.Infof("reloaded config from %s", configPath)
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// DefaultStageDir returns the default staging directory, honoring
// XDG_DATA_HOME before falling back to ~/.local/share.
func DefaultStageDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "./data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	dir := filepath.Join(dataDir, "cassette")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "./data"
	}
	return dir
}

// DefaultConfigDir returns cassette's configuration directory, honoring
// XDG_CONFIG_HOME before falling back to ~/.config.
func DefaultConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	dir := filepath.Join(configDir, "cassette")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "."
	}
	return dir
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.toml")
}
