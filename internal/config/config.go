// Package config resolves client configuration from defaults, an optional
// YAML file and NFSE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rezonia/nfse-dps/internal/model"
	"github.com/rezonia/nfse-dps/internal/transport"
)

// Config is the complete client configuration
type Config struct {
	API        API        `yaml:"api"`
	Signature  Signature  `yaml:"signature"`
	DPS        DPS        `yaml:"dps"`
	Validation Validation `yaml:"validation"`
	Catalog    Catalog    `yaml:"catalog"`
	Debug      Debug      `yaml:"debug"`
	Log        Log        `yaml:"log"`
	TempDir    string     `yaml:"temp_dir"`
}

// API configures the national API transport
type API struct {
	BaseURL     string            `yaml:"base_url" validate:"omitempty,url"`
	Ambiente    int               `yaml:"ambiente" validate:"oneof=1 2"`
	Timeout     time.Duration     `yaml:"timeout" validate:"gt=0"`
	Endpoints   map[string]string `yaml:"endpoints"`
	BearerToken string            `yaml:"bearer_token"`
	APIKey      string            `yaml:"api_key"`
}

// Signature configures signing and the client certificate
type Signature struct {
	Mode        string `yaml:"mode" validate:"omitempty,oneof=none optional required"`
	CertFile    string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile     string `yaml:"key_file" validate:"required_with=CertFile"`
	PFXFile     string `yaml:"pfx_file" validate:"excluded_with=CertFile"`
	PFXPassword string `yaml:"pfx_password"`
}

// DPS configures document building
type DPS struct {
	Namespace  string `yaml:"namespace" validate:"required"`
	Wrapped    bool   `yaml:"wrapped"`
	AppVersion string `yaml:"app_version" validate:"required,max=20"`
}

// Validation configures request validation
type Validation struct {
	MaxDescriptionLength int  `yaml:"max_description_length" validate:"gt=0"`
	CheckCatalog         bool `yaml:"check_catalog"`
}

// Catalog configures the parametrization lookups and their cache
type Catalog struct {
	BaseURL  string        `yaml:"base_url" validate:"omitempty,url"`
	CacheDir string        `yaml:"cache_dir"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
	RedisURL string        `yaml:"redis_url"`
}

// Debug configures the transport trace log
type Debug struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// Log configures the component logger
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error off disabled"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Catalog defaults per environment
const (
	ProductionCatalogURL = "https://adn.nfse.gov.br/parametrizacao"
	StagingCatalogURL    = "https://adn.producaorestrita.nfse.gov.br/parametrizacao"
)

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		API: API{
			Ambiente: model.AmbienteHomologacao,
			Timeout:  30 * time.Second,
		},
		Signature: Signature{Mode: "optional"},
		DPS: DPS{
			Namespace:  "http://www.sped.fazenda.gov.br/nfse",
			Wrapped:    true,
			AppVersion: "nfse-dps/1.0",
		},
		Validation: Validation{MaxDescriptionLength: 2000},
		Catalog:    Catalog{TTL: 24 * time.Hour},
		Log:        Log{Level: "info", Format: "json"},
	}
}

// Load resolves configuration: defaults, then the YAML file at path (when
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CatalogURL returns the configured catalog URL or the environment default
func (c Config) CatalogURL() string {
	if c.Catalog.BaseURL != "" {
		return c.Catalog.BaseURL
	}
	if c.API.Ambiente == model.AmbienteProducao {
		return ProductionCatalogURL
	}
	return StagingCatalogURL
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("yaml")
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	return v
}

// Validate checks field constraints. The first violation is returned as a
// *model.ConfigError keyed by its YAML path.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q constraint (%s)", fe.Tag(), fe.Param())
		}
		return model.NewConfigError(key, msg)
	}
	return model.NewConfigError("config", err.Error())
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, model.NewConfigError(key, "not an integer"))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, model.NewConfigError(key, "not a boolean"))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, model.NewConfigError(key, "not a duration"))
				return
			}
			*dst = d
		}
	}

	str("NFSE_BASE_URL", &cfg.API.BaseURL)
	integer("NFSE_AMBIENTE", &cfg.API.Ambiente)
	duration("NFSE_TIMEOUT", &cfg.API.Timeout)
	str("NFSE_BEARER_TOKEN", &cfg.API.BearerToken)
	str("NFSE_API_KEY", &cfg.API.APIKey)

	str("NFSE_SIGNATURE_MODE", &cfg.Signature.Mode)
	str("NFSE_CERT_FILE", &cfg.Signature.CertFile)
	str("NFSE_KEY_FILE", &cfg.Signature.KeyFile)
	str("NFSE_PFX_FILE", &cfg.Signature.PFXFile)
	if v, ok := lookup("NFSE_PFX_PASSWORD"); ok {
		cfg.Signature.PFXPassword = v
	}

	str("NFSE_NAMESPACE", &cfg.DPS.Namespace)
	boolean("NFSE_WRAPPED", &cfg.DPS.Wrapped)
	str("NFSE_APP_VERSION", &cfg.DPS.AppVersion)

	integer("NFSE_MAX_DESCRIPTION_LENGTH", &cfg.Validation.MaxDescriptionLength)
	boolean("NFSE_CHECK_CATALOG", &cfg.Validation.CheckCatalog)

	str("NFSE_CATALOG_URL", &cfg.Catalog.BaseURL)
	str("NFSE_CACHE_DIR", &cfg.Catalog.CacheDir)
	duration("NFSE_CACHE_TTL", &cfg.Catalog.TTL)
	str("NFSE_REDIS_URL", &cfg.Catalog.RedisURL)

	if v, ok := lookup(transport.DebugEnv); ok {
		cfg.Debug.Enabled = transport.DebugFlag(v)
	}
	str("NFSE_DEBUG_LOG", &cfg.Debug.LogPath)

	str("NFSE_LOG_LEVEL", &cfg.Log.Level)
	str("NFSE_LOG_FORMAT", &cfg.Log.Format)
	str("NFSE_TEMP_DIR", &cfg.TempDir)

	return errors.Join(errs...)
}
