// Package config loads the blume YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mvaleed/blume/internal/dialogue"
	"github.com/mvaleed/blume/internal/patch"
	"github.com/mvaleed/blume/internal/store"
)

var ErrInvalid = errors.New("config: invalid value")

type Store struct {
	Dir        string `yaml:"dir"`
	Durability string `yaml:"durability"`
}

type Extract struct {
	Workers     int  `yaml:"workers"`
	SkipInvalid bool `yaml:"skip_invalid"`
}

type Patch struct {
	MaxWidth     int               `yaml:"max_width"`
	MaxLines     int               `yaml:"max_lines"`
	NameWidth    int               `yaml:"name_width"`
	Paginate     bool              `yaml:"paginate"`
	Names        map[string]string `yaml:"names"`
	Replacements [][2]string       `yaml:"replacements"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Store   Store   `yaml:"store"`
	Session string  `yaml:"session"`
	Extract Extract `yaml:"extract"`
	Patch   Patch   `yaml:"patch"`
	Log     Log     `yaml:"log"`
}

func Defaults() Config {
	p := patch.DefaultOptions()
	return Config{
		Store:   Store{Dir: "blume.db", Durability: store.DurabilityMedium.String()},
		Session: "original",
		Extract: Extract{Workers: 4, SkipInvalid: true},
		Patch: Patch{
			MaxWidth:     p.MaxWidth,
			MaxLines:     p.MaxLines,
			NameWidth:    p.NameWidth,
			Paginate:     p.Paginate,
			Names:        p.Names,
			Replacements: p.Replacements,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over Defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := decode(f, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := store.ParseDurability(c.Store.Durability); err != nil {
		errs = append(errs, err)
	}
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is empty"))
	}
	if c.Session == "" || strings.Contains(c.Session, "/") {
		errs = append(errs, fmt.Errorf("session %q must be non-empty and contain no '/'", c.Session))
	}
	if c.Extract.Workers < 1 {
		errs = append(errs, fmt.Errorf("extract.workers = %d, need at least 1", c.Extract.Workers))
	}
	if err := c.PatchOptions(nil).Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q, want text or json", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (c Config) Durability() store.Durability {
	d, _ := store.ParseDurability(c.Store.Durability)
	return d
}

func (c Config) PatchOptions(logger *slog.Logger) patch.Options {
	return patch.Options{
		MaxWidth:     c.Patch.MaxWidth,
		MaxLines:     c.Patch.MaxLines,
		NameWidth:    c.Patch.NameWidth,
		Paginate:     c.Patch.Paginate,
		Replacements: c.Patch.Replacements,
		Names:        c.Patch.Names,
		Logger:       logger,
	}
}

func (c Config) DialogueOptions(logger *slog.Logger) dialogue.Options {
	policy := dialogue.Strict
	if c.Extract.SkipInvalid {
		policy = dialogue.SkipInvalid
	}
	return dialogue.Options{Policy: policy, Logger: logger}
}

func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the slog handler the configuration asks for.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
