// Package config loads service settings from an optional file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"preconsult/internal/interview"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Log      LogConfig
	Reveal   RevealConfig
	Telegram TelegramConfig
	Report   ReportConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Name        string
	Environment string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type RevealConfig struct {
	AssistantCharDelay time.Duration
	PatientCharDelay   time.Duration
	PatientThinkDelay  time.Duration
	SettlePause        time.Duration
	Animate            bool
	ShowTimestamps     bool
}

// Pacing converts the reveal settings into the interview pacing policy.
func (r RevealConfig) Pacing() interview.Pacing {
	return interview.Pacing{
		AssistantCharDelay: r.AssistantCharDelay,
		PatientCharDelay:   r.PatientCharDelay,
		PatientThinkDelay:  r.PatientThinkDelay,
		SettlePause:        r.SettlePause,
		Animate:            r.Animate,
	}
}

type TelegramConfig struct {
	BotToken     string
	DoctorChatID int64
	APIURL       string
}

// Enabled reports whether reports can be delivered to a doctor.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.DoctorChatID != 0
}

type ReportConfig struct {
	FontPaths []string
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// envBindings maps config keys to the environment variables that override
// them.
var envBindings = map[string][]string{
	"server.port":                 {"PORT", "SERVER_PORT"},
	"server.host":                 {"SERVER_HOST"},
	"server.allowed_origins":      {"CORS_ALLOWED_ORIGINS"},
	"log.level":                   {"LOG_LEVEL"},
	"log.format":                  {"LOG_FORMAT"},
	"log.output_path":             {"LOG_OUTPUT"},
	"app.environment":             {"APP_ENV"},
	"telegram.bot_token":          {"TELEGRAM_BOT_TOKEN"},
	"telegram.doctor_chat_id":     {"DOCTOR_CHAT_ID"},
	"telegram.api_url":            {"TELEGRAM_API_URL"},
	"reveal.assistant_char_delay": {"REVEAL_ASSISTANT_CHAR_DELAY"},
	"reveal.patient_char_delay":   {"REVEAL_PATIENT_CHAR_DELAY"},
	"reveal.patient_think_delay":  {"REVEAL_PATIENT_THINK_DELAY"},
	"reveal.settle_pause":         {"REVEAL_SETTLE_PAUSE"},
	"reveal.animate":              {"REVEAL_ANIMATE"},
	"reveal.show_timestamps":      {"REVEAL_SHOW_TIMESTAMPS"},
	"report.font_paths":           {"REPORT_FONT_PATHS"},
	"metrics.enabled":             {"METRICS_ENABLED"},
}

func setDefaults(v *viper.Viper) {
	pacing := interview.DefaultPacing

	v.SetDefault("app.name", "preconsult")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("reveal.assistant_char_delay", pacing.AssistantCharDelay)
	v.SetDefault("reveal.patient_char_delay", pacing.PatientCharDelay)
	v.SetDefault("reveal.patient_think_delay", pacing.PatientThinkDelay)
	v.SetDefault("reveal.settle_pause", pacing.SettlePause)
	v.SetDefault("reveal.animate", pacing.Animate)
	v.SetDefault("reveal.show_timestamps", false)

	v.SetDefault("telegram.api_url", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "preconsult")
}

// Load reads the file named by CONFIG_FILE, if any, then applies environment
// overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	_ = v.BindEnv("config_file", "CONFIG_FILE")
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:        v.GetString("app.name"),
			Environment: v.GetString("app.environment"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  splitList(v.GetStringSlice("server.allowed_origins")),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			OutputPath: v.GetString("log.output_path"),
		},
		Reveal: RevealConfig{
			AssistantCharDelay: v.GetDuration("reveal.assistant_char_delay"),
			PatientCharDelay:   v.GetDuration("reveal.patient_char_delay"),
			PatientThinkDelay:  v.GetDuration("reveal.patient_think_delay"),
			SettlePause:        v.GetDuration("reveal.settle_pause"),
			Animate:            v.GetBool("reveal.animate"),
			ShowTimestamps:     v.GetBool("reveal.show_timestamps"),
		},
		Telegram: TelegramConfig{
			BotToken:     v.GetString("telegram.bot_token"),
			DoctorChatID: v.GetInt64("telegram.doctor_chat_id"),
			APIURL:       v.GetString("telegram.api_url"),
		},
		Report: ReportConfig{
			FontPaths: splitList(v.GetStringSlice("report.font_paths")),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts both YAML lists and comma separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d is out of range", cfg.Server.Port))
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log format %q must be json or console", cfg.Log.Format))
	}

	r := cfg.Reveal
	if r.AssistantCharDelay < 0 || r.PatientCharDelay < 0 || r.PatientThinkDelay < 0 || r.SettlePause < 0 {
		errs = append(errs, "reveal delays must not be negative")
	}

	if (cfg.Telegram.BotToken == "") != (cfg.Telegram.DoctorChatID == 0) {
		errs = append(errs, "TELEGRAM_BOT_TOKEN and DOCTOR_CHAT_ID must be set together")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
