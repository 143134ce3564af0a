// Package config carga la configuración del servicio: YAML base + overlay de
// variables de entorno. Los secretos (credenciales OAuth, claves) solo viven
// en env, nunca en el YAML.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// pg | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Redis struct {
		// Habilita el replay guard distribuido para el state.
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		DB      int    `yaml:"db"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"redis"`

	Auth struct {
		// StateSecret firma el parámetro `state` (HS256). Solo env.
		StateSecret string `yaml:"-"`
		// SecretboxKey (base64, 32 bytes) cifra tokens en reposo. Solo env.
		SecretboxKey string `yaml:"-"`
	} `yaml:"auth"`

	Refresh struct {
		MaxAttempts   int    `yaml:"max_attempts"`
		BaseDelay     string `yaml:"base_delay"`
		BufferMinutes int    `yaml:"buffer_minutes"`
	} `yaml:"refresh"`

	Sweep struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"sweep"`

	SMTP struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"-"`
		From     string `yaml:"from"`
		// NotifyTo recibe los avisos de re-auth cuando el servicio no puede
		// resolver el email del usuario (típicamente el inbox de ops).
		NotifyTo string `yaml:"notify_to"`
	} `yaml:"smtp"`

	Platforms struct {
		Google struct {
			ClientID          string `yaml:"-"`
			ClientSecret      string `yaml:"-"`
			RedirectURI       string `yaml:"-"`
			AdsDeveloperToken string `yaml:"-"`
		} `yaml:"-"`
		Facebook struct {
			AppID       string `yaml:"-"`
			AppSecret   string `yaml:"-"`
			RedirectURI string `yaml:"-"`
		} `yaml:"-"`
	} `yaml:"-"`
}

// Load lee el YAML (opcional: path vacío => solo defaults+env) y aplica el
// overlay de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Refresh.MaxAttempts == 0 {
		c.Refresh.MaxAttempts = 3
	}
	if c.Refresh.BaseDelay == "" {
		c.Refresh.BaseDelay = "2s"
	}
	if c.Refresh.BufferMinutes == 0 {
		c.Refresh.BufferMinutes = 10
	}
	if c.Sweep.Interval == "" {
		c.Sweep.Interval = "15m"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}

	applyEnv(&c)
	return &c, nil
}

func applyEnv(c *Config) {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DATABASE_URL"); ok {
		c.Storage.DSN = v
	}

	if v, ok := getEnvBool("REDIS_ENABLED"); ok {
		c.Redis.Enabled = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}

	if v, ok := getEnvStr("STATE_SIGNING_SECRET"); ok {
		c.Auth.StateSecret = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Auth.SecretboxKey = v
	}

	if v, ok := getEnvInt("REFRESH_MAX_ATTEMPTS"); ok {
		c.Refresh.MaxAttempts = v
	}
	if v, ok := getEnvStr("REFRESH_BASE_DELAY"); ok {
		c.Refresh.BaseDelay = v
	}
	if v, ok := getEnvInt("REFRESH_BUFFER_MINUTES"); ok {
		c.Refresh.BufferMinutes = v
	}

	if v, ok := getEnvBool("SWEEP_ENABLED"); ok {
		c.Sweep.Enabled = v
	}
	if v, ok := getEnvStr("SWEEP_INTERVAL"); ok {
		c.Sweep.Interval = v
	}

	// SMTP (notificación de re-auth)
	if v, ok := getEnvBool("SMTP_ENABLED"); ok {
		c.SMTP.Enabled = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_NOTIFY_TO"); ok {
		c.SMTP.NotifyTo = v
	}

	// Credenciales por plataforma. La familia Meta comparte las de Facebook.
	if v, ok := getEnvStr("GOOGLE_CLIENT_ID"); ok {
		c.Platforms.Google.ClientID = v
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_SECRET"); ok {
		c.Platforms.Google.ClientSecret = v
	}
	if v, ok := getEnvStr("GOOGLE_REDIRECT_URI"); ok {
		c.Platforms.Google.RedirectURI = v
	}
	if v, ok := getEnvStr("GOOGLE_ADS_DEVELOPER_TOKEN"); ok {
		c.Platforms.Google.AdsDeveloperToken = v
	}
	if v, ok := getEnvStr("FACEBOOK_APP_ID"); ok {
		c.Platforms.Facebook.AppID = v
	}
	if v, ok := getEnvStr("FACEBOOK_APP_SECRET"); ok {
		c.Platforms.Facebook.AppSecret = v
	}
	if v, ok := getEnvStr("FACEBOOK_REDIRECT_URI"); ok {
		c.Platforms.Facebook.RedirectURI = v
	}
}

// BaseDelayDuration parsea Refresh.BaseDelay con fallback a 2s.
func (c *Config) BaseDelayDuration() time.Duration {
	if d, err := time.ParseDuration(c.Refresh.BaseDelay); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// SweepIntervalDuration parsea Sweep.Interval con fallback a 15m.
func (c *Config) SweepIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.Sweep.Interval); err == nil && d > 0 {
		return d
	}
	return 15 * time.Minute
}

func getEnvStr(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && strings.TrimSpace(v) != ""
}

func getEnvInt(key string) (int, bool) {
	if v, ok := getEnvStr(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if v, ok := getEnvStr(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off":
			return false, true
		}
	}
	return false, false
}
