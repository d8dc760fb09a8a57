// Package config loads shp-data settings from a YAML file and SHPDATA_*
// environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/aidingjing/shp-data/logging"
)

// envPrefix maps nested keys like join.workers to SHPDATA_JOIN_WORKERS.
const envPrefix = "SHPDATA"

const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	DefaultSimplifyTolerance = 0.0001
	DefaultQuadSegs          = 8
	DefaultFieldPrefix       = "t_"
	DefaultExportFormat      = "shapefile"
	DefaultServerAddr        = ":8080"
	DefaultMaxUploadMB       = 512
)

type Config struct {
	Log    logging.Config `mapstructure:"log"`
	Join   JoinConfig     `mapstructure:"join"`
	Repair RepairConfig   `mapstructure:"repair"`
	Export ExportConfig   `mapstructure:"export"`
	Server ServerConfig   `mapstructure:"server"`
}

type JoinConfig struct {
	SourceIDField string `mapstructure:"source_id_field"`
	TargetIDField string `mapstructure:"target_id_field"`
	UseIndex      bool   `mapstructure:"use_index"`
	Workers       int    `mapstructure:"workers"`
}

type RepairConfig struct {
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance"`
	QuadSegs          int     `mapstructure:"quad_segs"`
}

type ExportConfig struct {
	FieldPrefix    string `mapstructure:"field_prefix"`
	Format         string `mapstructure:"format"`
	VocabularyFile string `mapstructure:"vocabulary_file"`
	Report         bool   `mapstructure:"report"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key with viper; Unmarshal only consults the
// environment for keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output_paths", []string{"stderr"})

	v.SetDefault("join.source_id_field", "")
	v.SetDefault("join.target_id_field", "")
	v.SetDefault("join.use_index", true)
	v.SetDefault("join.workers", runtime.NumCPU())

	v.SetDefault("repair.simplify_tolerance", DefaultSimplifyTolerance)
	v.SetDefault("repair.quad_segs", DefaultQuadSegs)

	v.SetDefault("export.field_prefix", DefaultFieldPrefix)
	v.SetDefault("export.format", DefaultExportFormat)
	v.SetDefault("export.vocabulary_file", "")
	v.SetDefault("export.report", true)

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.max_upload_mb", DefaultMaxUploadMB)
}

// Load reads the YAML file at path, when path is not empty, merges SHPDATA_*
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file or environment is
// present.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Only reachable if the environment carries invalid overrides.
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q is invalid; expected json|console", c.Log.Format)
	}
	if c.Join.Workers < 0 {
		return fmt.Errorf("join.workers must be >= 0, got %d", c.Join.Workers)
	}
	if c.Repair.SimplifyTolerance <= 0 {
		return fmt.Errorf("repair.simplify_tolerance must be > 0, got %g", c.Repair.SimplifyTolerance)
	}
	if c.Repair.QuadSegs < 1 {
		return fmt.Errorf("repair.quad_segs must be >= 1, got %d", c.Repair.QuadSegs)
	}
	switch c.Export.Format {
	case "shapefile", "geojson", "csv":
	default:
		return fmt.Errorf("export.format %q is invalid; expected shapefile|geojson|csv", c.Export.Format)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be >= 1, got %d", c.Server.MaxUploadMB)
	}
	return nil
}
