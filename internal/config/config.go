// Package config loads the application shell configuration and sets up logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	App        AppConfig        `yaml:"app" mapstructure:"app"`
	Map        MapConfig        `yaml:"map" mapstructure:"map"`
	Assets     AssetsConfig     `yaml:"assets" mapstructure:"assets"`
	Tour       TourConfig       `yaml:"tour" mapstructure:"tour"`
	WaterLevel WaterLevelConfig `yaml:"waterlevel" mapstructure:"waterlevel"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AppConfig describes the page and the items the viewer is built from.
type AppConfig struct {
	Title           string   `yaml:"title" mapstructure:"title"`
	Locale          string   `yaml:"locale" mapstructure:"locale"`
	Direction       string   `yaml:"direction" mapstructure:"direction"`
	PortalURL       string   `yaml:"portal_url" mapstructure:"portal_url"`
	WebMaps         []string `yaml:"webmaps" mapstructure:"webmaps"`
	WebScenes       []string `yaml:"webscenes" mapstructure:"webscenes"`
	ApplicationItem string   `yaml:"application_item" mapstructure:"application_item"`
	// WebMapFile points at a local web map JSON document used instead of portal items.
	WebMapFile string `yaml:"webmap_file" mapstructure:"webmap_file"`
}

// MapConfig holds the initial viewpoint when the item does not carry one.
type MapConfig struct {
	Extent []float64 `yaml:"extent" mapstructure:"extent"` // xmin, ymin, xmax, ymax
	Scale  float64   `yaml:"scale" mapstructure:"scale"`
}

// AssetsConfig configures asset layer discovery and analysis.
type AssetsConfig struct {
	LayerPrefix string `yaml:"layer_prefix" mapstructure:"layer_prefix"`
	DebounceMS  int    `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// TourConfig configures the scenario location tour.
type TourConfig struct {
	LayerTitle string  `yaml:"layer_title" mapstructure:"layer_title"`
	PauseMS    int     `yaml:"pause_ms" mapstructure:"pause_ms"`
	Zoom       float64 `yaml:"zoom" mapstructure:"zoom"`
}

// WaterLevelConfig names the image service layer driven by the slider.
type WaterLevelConfig struct {
	LayerTitle string `yaml:"layer_title" mapstructure:"layer_title"`
}

// HTTPConfig configures the outbound ArcGIS REST client.
type HTTPConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   int `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from the given file (or ./config.yaml) and environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SLR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.locale", "en")
	v.SetDefault("app.direction", "ltr")
	v.SetDefault("app.portal_url", "https://www.arcgis.com")
	v.SetDefault("map.scale", 144447.638572)
	v.SetDefault("assets.layer_prefix", "US HIFLD Assets - ")
	v.SetDefault("assets.debounce_ms", 250)
	v.SetDefault("tour.layer_title", "Scenario Locations")
	v.SetDefault("tour.pause_ms", 6000)
	v.SetDefault("tour.zoom", 14)
	v.SetDefault("waterlevel.layer_title", "Sea Level Rise Water Level")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.rate_limit", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
