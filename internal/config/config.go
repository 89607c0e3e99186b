package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/canopylabs/cropclass/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int             `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-client rate limiter.
type RateLimitConfig struct {
	RPS        float64 `yaml:"rps" mapstructure:"rps"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	MaxClients int     `yaml:"max_clients" mapstructure:"max_clients"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// UploadConfig constrains accepted image uploads.
type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
	AllowedMIMETypes  []string `yaml:"allowed_mime_types" mapstructure:"allowed_mime_types"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	TTLHours          int      `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// Band is a closed confidence interval assigned to one predictor branch.
type Band struct {
	Low  float64 `yaml:"low" mapstructure:"low"`
	High float64 `yaml:"high" mapstructure:"high"`
}

// BandConfig maps each predictor branch to its confidence band.
type BandConfig struct {
	Forest      Band `yaml:"forest" mapstructure:"forest"`
	DensePalm   Band `yaml:"dense_palm" mapstructure:"dense_palm"`
	MidPalm     Band `yaml:"mid_palm" mapstructure:"mid_palm"`
	MidCacao    Band `yaml:"mid_cacao" mapstructure:"mid_cacao"`
	SparseCacao Band `yaml:"sparse_cacao" mapstructure:"sparse_cacao"`
}

// ClassifyConfig configures the classification pipeline.
type ClassifyConfig struct {
	Labels []string `yaml:"labels" mapstructure:"labels"`

	// GroundResolutionM is the assumed ground sample distance per pixel,
	// in meters, used to derive the covered area.
	GroundResolutionM float64 `yaml:"ground_resolution_m" mapstructure:"ground_resolution_m"`

	// TierFile optionally points to a YAML file overriding the built-in
	// confidence tier table.
	TierFile string `yaml:"tier_file" mapstructure:"tier_file"`

	Bands BandConfig `yaml:"bands" mapstructure:"bands"`
}

// ExportConfig configures export artifact generation.
type ExportConfig struct {
	FilenamePrefix string `yaml:"filename_prefix" mapstructure:"filename_prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CROPCLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit.rps", 2.0)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("server.rate_limit.max_clients", 1024)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cropclass.db")
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.allowed_mime_types", []string{"image/jpeg", "image/png", "image/tiff", "image/geotiff"})
	v.SetDefault("upload.allowed_extensions", []string{".jpg", ".jpeg", ".png", ".tif", ".tiff"})
	v.SetDefault("upload.ttl_hours", 24)
	v.SetDefault("classify.labels", []string{"oil_palm", "cacao", "forest"})
	v.SetDefault("classify.ground_resolution_m", 10.0)
	v.SetDefault("classify.bands.forest.low", 0.85)
	v.SetDefault("classify.bands.forest.high", 0.95)
	v.SetDefault("classify.bands.dense_palm.low", 0.75)
	v.SetDefault("classify.bands.dense_palm.high", 0.90)
	v.SetDefault("classify.bands.mid_palm.low", 0.70)
	v.SetDefault("classify.bands.mid_palm.high", 0.90)
	v.SetDefault("classify.bands.mid_cacao.low", 0.65)
	v.SetDefault("classify.bands.mid_cacao.high", 0.90)
	v.SetDefault("classify.bands.sparse_cacao.low", 0.45)
	v.SetDefault("classify.bands.sparse_cacao.high", 0.75)
	v.SetDefault("export.filename_prefix", "landcover_results")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DefaultBands returns the built-in per-branch confidence bands, matching
// the viper defaults.
func DefaultBands() BandConfig {
	return BandConfig{
		Forest:      Band{Low: 0.85, High: 0.95},
		DensePalm:   Band{Low: 0.75, High: 0.90},
		MidPalm:     Band{Low: 0.70, High: 0.90},
		MidCacao:    Band{Low: 0.65, High: 0.90},
		SparseCacao: Band{Low: 0.45, High: 0.75},
	}
}

// DefaultTiers returns the built-in confidence tier table, ordered from the
// highest threshold down. Tier 1 is the catch-all.
func DefaultTiers() []model.ConfidenceLevel {
	return []model.ConfidenceLevel{
		{Level: 5, Threshold: 0.8, Label: "Very High", RecommendedAction: "Accept classification"},
		{Level: 4, Threshold: 0.6, Label: "High", RecommendedAction: "Accept with spot review"},
		{Level: 3, Threshold: 0.4, Label: "Moderate", RecommendedAction: "Manual review recommended"},
		{Level: 2, Threshold: 0.2, Label: "Low", RecommendedAction: "Re-image or ground-truth"},
		{Level: 1, Threshold: 0.0, Label: "Very Low", RecommendedAction: "Discard and re-survey"},
	}
}

// Tiers returns the configured confidence tier table: the contents of
// TierFile if set, otherwise the built-in table.
func (c ClassifyConfig) Tiers() ([]model.ConfidenceLevel, error) {
	if c.TierFile == "" {
		return DefaultTiers(), nil
	}
	data, err := os.ReadFile(c.TierFile)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read tier file %s", c.TierFile)
	}
	var tiers []model.ConfidenceLevel
	if err := yaml.Unmarshal(data, &tiers); err != nil {
		return nil, eris.Wrapf(err, "config: parse tier file %s", c.TierFile)
	}
	return tiers, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
