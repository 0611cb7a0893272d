// Package config loads runtime settings (INI) and optimiser requests (JSON).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"tinman/internal/breeder"
	"tinman/internal/model"
)

type StoreSettings struct {
	Kind   string `ini:"kind"`
	DBPath string `ini:"db_path"`
}

type RunSettings struct {
	Seed         int64  `ini:"seed"`
	Workers      int    `ini:"workers"`
	ArtifactsDir string `ini:"artifacts_dir"`
}

type LogSettings struct {
	Level  string `ini:"level"`
	Format string `ini:"format"`
}

// BreederSettings gates which hyperparameters the breeding operators touch.
type BreederSettings struct {
	AlterLearningRate     bool `ini:"alter_learning_rate"`
	AlterBias             bool `ini:"alter_bias"`
	AlterMomentum         bool `ini:"alter_momentum"`
	AlterUpperWeightLimit bool `ini:"alter_upper_weight_limit"`
	AlterLowerWeightLimit bool `ini:"alter_lower_weight_limit"`
}

func (b BreederSettings) Gates() breeder.Gates {
	return breeder.Gates{
		LearningRate:     b.AlterLearningRate,
		Bias:             b.AlterBias,
		Momentum:         b.AlterMomentum,
		UpperWeightLimit: b.AlterUpperWeightLimit,
		LowerWeightLimit: b.AlterLowerWeightLimit,
	}
}

type Settings struct {
	Store   StoreSettings
	Run     RunSettings
	Log     LogSettings
	Breeder BreederSettings
}

const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

func Default() Settings {
	return Settings{
		Store: StoreSettings{Kind: "memory", DBPath: "tinman.db"},
		Run:   RunSettings{Seed: 1, ArtifactsDir: "runs"},
		Log:   LogSettings{Level: "info", Format: FormatAuto},
		Breeder: BreederSettings{
			AlterLearningRate:     true,
			AlterBias:             true,
			AlterMomentum:         true,
			AlterUpperWeightLimit: true,
			AlterLowerWeightLimit: true,
		},
	}
}

// sections pairs each INI section name with the struct it maps onto.
func (s *Settings) sections() []struct {
	name string
	dst  any
} {
	return []struct {
		name string
		dst  any
	}{
		{name: "store", dst: &s.Store},
		{name: "run", dst: &s.Run},
		{name: "log", dst: &s.Log},
		{name: "breeder", dst: &s.Breeder},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	out := Default()
	if path == "" {
		return out, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, path)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
	}
	for _, sec := range out.sections() {
		if err := file.Section(sec.name).MapTo(sec.dst); err != nil {
			return Settings{}, fmt.Errorf("map [%s] section: %w", sec.name, err)
		}
	}
	out.Store.Kind = strings.ToLower(strings.TrimSpace(out.Store.Kind))
	out.Log.Level = strings.ToLower(strings.TrimSpace(out.Log.Level))
	out.Log.Format = strings.ToLower(strings.TrimSpace(out.Log.Format))
	if err := out.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return out, nil
}

// Save writes s as an INI file.
func Save(path string, s Settings) error {
	file := ini.Empty()
	for _, sec := range s.sections() {
		if err := file.Section(sec.name).ReflectFrom(sec.dst); err != nil {
			return fmt.Errorf("reflect [%s] section: %w", sec.name, err)
		}
	}
	return file.SaveTo(path)
}

func (s Settings) Validate() error {
	switch s.Store.Kind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unsupported store kind %q", model.ErrConfiguration, s.Store.Kind)
	}
	if s.Store.Kind == "sqlite" && strings.TrimSpace(s.Store.DBPath) == "" {
		return fmt.Errorf("%w: sqlite store requires db_path", model.ErrConfiguration)
	}
	if s.Run.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", model.ErrConfiguration)
	}
	if _, err := ParseLevel(s.Log.Level); err != nil {
		return err
	}
	switch s.Log.Format {
	case FormatAuto, FormatText, FormatJSON:
	default:
		return fmt.Errorf("%w: unsupported log format %q", model.ErrConfiguration, s.Log.Format)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("%w: unsupported log level %q", model.ErrConfiguration, name)
	}
	return level, nil
}
