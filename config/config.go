// Package config loads jbdctl settings from a config file, JBD_*
// environment variables and defaults.
//
// Precedence, highest first:
//  1. Environment variables (JBD_*)
//  2. Configuration file
//  3. Default values
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	units "github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-jbd/common"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Image   ImageConfig   `mapstructure:"image"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ImageConfig holds the image backend and defaults for `jbdctl format`.
type ImageConfig struct {
	// Backend is the store images live on. A mem image only exists for the
	// duration of one command.
	Backend       string `mapstructure:"backend" validate:"required,oneof=file badger leveldb mem"`
	Blocks        Blocks `mapstructure:"blocks" validate:"gtfield=JournalBlocks"`
	JournalBlocks Blocks `mapstructure:"journal_blocks" validate:"gte=8"`
}

// Blocks is a count of BlockSize blocks. In a config file or environment
// variable it may be written as a plain count or as a byte size with a
// K, M or G suffix ("64M").
type Blocks uint64

var ErrInvalid = errors.New("config: invalid configuration")

const (
	defaultBlocks        Blocks = 4096
	defaultJournalBlocks Blocks = 1024
)

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
		Image: ImageConfig{
			Backend:       "file",
			Blocks:        defaultBlocks,
			JournalBlocks: defaultJournalBlocks,
		},
	}
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. Variables already set are left alone. A missing file is not
// an error unless required.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

// Load reads configPath (if non-empty) and the environment over Default.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// JBD_LOGGING_LEVEL=DEBUG sets logging.level
	v.SetEnvPrefix("JBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults keys viper already knows about.
	def := Default()
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("image.backend", def.Image.Backend)
	v.SetDefault("image.blocks", uint64(def.Image.Blocks))
	v.SetDefault("image.journal_blocks", uint64(def.Image.JournalBlocks))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrapf(ErrInvalid, "%v", err)
	}
	return nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		blocksDecodeHook(),
	)
}

func blocksDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(Blocks(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseBlocks(v)
		case int:
			return Blocks(v), nil
		case int64:
			return Blocks(v), nil
		case uint64:
			return Blocks(v), nil
		case float64:
			// YAML numbers
			return Blocks(v), nil
		default:
			return data, nil
		}
	}
}

// ParseBlocks parses a block count, or a byte size with a binary unit
// ("16M", "4KiB") that must be a whole number of blocks.
func ParseBlocks(s string) (Blocks, error) {
	s = strings.TrimSpace(s)
	if s != "" && strings.TrimLeftFunc(s, unicode.IsDigit) == "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalid, "block count %q", s)
		}
		return Blocks(n), nil
	}
	bytes, err := units.RAMInBytes(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalid, "size %q: %v", s, err)
	}
	if bytes <= 0 || uint64(bytes)%common.BlockSize != 0 {
		return 0, errors.Wrapf(ErrInvalid, "size %q is not a positive multiple of %d", s, common.BlockSize)
	}
	return Blocks(uint64(bytes) / common.BlockSize), nil
}
