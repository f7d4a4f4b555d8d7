package shell

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/tailscale/hujson"

	"fatsim/pkg/dir"
	"fatsim/pkg/disk"
)

// Config holds all shell configuration. Zero geometry fields mean "adopt
// the image's superblock, or the engine default when formatting".
type Config struct {
	Image       string `json:"image"        envconfig:"FATSIM_IMAGE"`
	BlockSize   uint32 `json:"block_size"   envconfig:"FATSIM_BLOCK_SIZE"`
	TotalBlocks uint32 `json:"total_blocks" envconfig:"FATSIM_TOTAL_BLOCKS"`
	DirBlocks   uint32 `json:"dir_blocks"   envconfig:"FATSIM_DIR_BLOCKS"`
	CachePages  int    `json:"cache_pages"  envconfig:"FATSIM_CACHE_PAGES"`
	Namespace   string `json:"namespace"    envconfig:"FATSIM_NAMESPACE"`
	LogLevel    string `json:"log_level"    envconfig:"FATSIM_LOG_LEVEL"`
}

// ConfigFileName is the default config file name, looked up in the
// working directory.
const ConfigFileName = ".fatsim.json"

const envPrefix = "fatsim"

var (
	errConfigNotFound = errors.New("shell: config file not found")
	errConfigInvalid  = errors.New("shell: invalid config")
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Image:     "fatsim.img",
		Namespace: "flat",
		LogLevel:  "warn",
	}
}

// LoadConfig loads configuration with the following precedence (highest
// wins):
// 1. Defaults
// 2. Config file (ConfigFileName in workDir, or configPath when given)
// 3. FATSIM_* environment variables
// 4. overrides (flag values; zero fields mean no override).
func LoadConfig(workDir, configPath string, overrides Config) (Config, error) {
	cfg := DefaultConfig()

	fileCfg, err := loadConfigFile(workDir, configPath)
	if err != nil {
		return Config{}, err
	}

	cfg = mergeConfig(cfg, fileCfg)

	var envCfg Config
	if err := envconfig.Process(envPrefix, &envCfg); err != nil {
		return Config{}, fmt.Errorf("%w: environment: %w", errConfigInvalid, err)
	}

	cfg = mergeConfig(cfg, envCfg)
	cfg = mergeConfig(cfg, overrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadConfigFile loads the config file. An explicit configPath must
// exist; the default file is optional.
func loadConfigFile(workDir, configPath string) (Config, error) {
	cfgFile := configPath

	mustExist := configPath != ""
	if mustExist {
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil
		}

		return Config{}, fmt.Errorf("%w: %s", errConfigNotFound, cfgFile)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigInvalid, cfgFile, err)
	}

	return cfg, nil
}

// parseConfig accepts JSON with comments and trailing commas.
func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Image != "" {
		base.Image = overlay.Image
	}

	if overlay.BlockSize != 0 {
		base.BlockSize = overlay.BlockSize
	}

	if overlay.TotalBlocks != 0 {
		base.TotalBlocks = overlay.TotalBlocks
	}

	if overlay.DirBlocks != 0 {
		base.DirBlocks = overlay.DirBlocks
	}

	if overlay.CachePages != 0 {
		base.CachePages = overlay.CachePages
	}

	if overlay.Namespace != "" {
		base.Namespace = overlay.Namespace
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.Image == "" {
		return fmt.Errorf("%w: empty image path", errConfigInvalid)
	}

	if cfg.CachePages < 0 {
		return fmt.Errorf("%w: cache_pages %d is negative", errConfigInvalid, cfg.CachePages)
	}

	if _, err := cfg.Mode(); err != nil {
		return err
	}

	if _, err := cfg.Level(); err != nil {
		return err
	}

	return nil
}

// Geometry resolves the configured geometry. All fields zero means no
// explicit geometry: the caller passes the zero value through and the
// image's superblock (or the format default) decides. When any field is
// set, the unset ones are filled from the default layout.
func (c Config) Geometry() disk.Geometry {
	if c.BlockSize == 0 && c.TotalBlocks == 0 && c.DirBlocks == 0 {
		return disk.Geometry{}
	}

	geo := disk.DefaultGeometry()

	if c.BlockSize != 0 {
		geo.BlockSize = c.BlockSize
	}

	if c.TotalBlocks != 0 {
		geo.TotalBlocks = c.TotalBlocks
	}

	if c.DirBlocks != 0 {
		geo.DirBlocks = c.DirBlocks
	}

	return geo
}

// Mode maps the namespace setting to a directory name mode.
func (c Config) Mode() (dir.Mode, error) {
	switch c.Namespace {
	case "flat":
		return dir.Flat, nil
	case "hierarchical":
		return dir.Hierarchical, nil
	}

	return 0, fmt.Errorf("%w: namespace %q (want flat or hierarchical)", errConfigInvalid, c.Namespace)
}

// Level parses the configured log level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q (want debug, info, warn or error)", errConfigInvalid, c.LogLevel)
	}

	return level, nil
}
