package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultConfigPath = "tflite_service_config.json"

	NormalizationMobileNet = "mobilenet"
	NormalizationUnit      = "unit"
)

type Quantization struct {
	Scale     float64 `mapstructure:"scale"`
	ZeroPoint int64   `mapstructure:"zeroPoint"`
}

// Configs is the service configuration artifact. The first three keys are
// required; the rest have defaults.
type Configs struct {
	ModelPath  string  `mapstructure:"modelPath"`
	InputShape []int64 `mapstructure:"inputShape"`
	Port       int     `mapstructure:"port"`

	InputName          string        `mapstructure:"inputName"`
	OutputName         string        `mapstructure:"outputName"`
	InputQuantization  *Quantization `mapstructure:"inputQuantization"`
	OutputQuantization *Quantization `mapstructure:"outputQuantization"`
	OrtLibraryPath     string        `mapstructure:"ortLibraryPath"`

	LabelsPath         string `mapstructure:"labelsPath"`
	ImageNormalization string `mapstructure:"imageNormalization"`

	MaxBodyBytes    int64         `mapstructure:"maxBodyBytes"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`

	AppName            string  `mapstructure:"appName"`
	AppEnv             string  `mapstructure:"appEnv"`
	AppLogLevel        string  `mapstructure:"appLogLevel"`
	MetricSamplingRate float64 `mapstructure:"metricSamplingRate"`
	TelegrafAddress    string  `mapstructure:"telegrafAddress"`
}

var defaults = map[string]interface{}{
	"imageNormalization": NormalizationMobileNet,
	"maxBodyBytes":       64 << 20,
	"readTimeout":        "30s",
	"writeTimeout":       "60s",
	"shutdownTimeout":    "10s",
	"appName":            "leaf-infer",
	"appEnv":             "local",
	"appLogLevel":        "INFO",
	"metricSamplingRate": 1.0,
	"telegrafAddress":    "localhost:8125",
}

// environment variables that override file keys
var envBindings = map[string]string{
	"modelPath":          "MODEL_PATH",
	"port":               "PORT",
	"ortLibraryPath":     "ORT_LIBRARY_PATH",
	"labelsPath":         "LABELS_PATH",
	"imageNormalization": "IMAGE_NORMALIZATION",
	"appName":            "APP_NAME",
	"appEnv":             "APP_ENV",
	"appLogLevel":        "APP_LOG_LEVEL",
	"metricSamplingRate": "APP_METRIC_SAMPLING_RATE",
	"telegrafAddress":    "TELEGRAF_ADDRESS",
}

// Load reads the JSON artifact at path, applies defaults and environment
// overrides and validates the result.
func Load(path string) (*Configs, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg Configs
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *Configs) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ModelPath) == "" {
		errs = append(errs, errors.New("modelPath is required"))
	}
	if len(c.InputShape) == 0 {
		errs = append(errs, errors.New("inputShape is required"))
	}
	for i, d := range c.InputShape {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("inputShape[%d] = %d must be positive", i, d))
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	for name, q := range map[string]*Quantization{"inputQuantization": c.InputQuantization, "outputQuantization": c.OutputQuantization} {
		if q != nil && q.Scale <= 0 {
			errs = append(errs, fmt.Errorf("%s.scale must be positive", name))
		}
	}
	switch c.ImageNormalization {
	case NormalizationMobileNet, NormalizationUnit:
	default:
		errs = append(errs, fmt.Errorf("imageNormalization %q must be %q or %q",
			c.ImageNormalization, NormalizationMobileNet, NormalizationUnit))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("maxBodyBytes must be positive"))
	}
	return errors.Join(errs...)
}
