package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xtream1101/docker-backup-sidecar/internal/backup"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
	"github.com/xtream1101/docker-backup-sidecar/internal/retention"
	"github.com/xtream1101/docker-backup-sidecar/internal/storage"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. BACKUP_NAME.
const EnvPrefix = "BACKUP"

// ErrLoadConfig indicates a failure to read or parse the configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// rawConfig mirrors the flat key space shared by the environment and the
// optional YAML file.
type rawConfig struct {
	Include []string `mapstructure:"include"`

	Name     string `mapstructure:"name"`
	Postgres any    `mapstructure:"postgres"`
	MongoDB  any    `mapstructure:"mongodb"`
	Dirs     any    `mapstructure:"dirs"`
	Files    any    `mapstructure:"files"`

	LocalPath   string `mapstructure:"local_path"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Prefix    string `mapstructure:"s3_prefix"`
	S3Insecure  bool   `mapstructure:"s3_insecure"`

	EncryptionKey string `mapstructure:"encryption_key"`

	StopServices any    `mapstructure:"stop_services"`
	StopWait     string `mapstructure:"stop_wait"`
	StartWait    string `mapstructure:"start_wait"`

	RetentionRecent  int `mapstructure:"retention_recent"`
	RetentionDaily   int `mapstructure:"retention_daily"`
	RetentionWeekly  int `mapstructure:"retention_weekly"`
	RetentionMonthly int `mapstructure:"retention_monthly"`
	RetentionYearly  int `mapstructure:"retention_yearly"`

	SuccessWebhook string `mapstructure:"success_webhook"`
	FailureWebhook string `mapstructure:"failure_webhook"`

	TmpDir         string `mapstructure:"tmp_dir"`
	ComposeProject string `mapstructure:"compose_project"`
	PGBinDir       string `mapstructure:"pg_bin_dir"`
	CommandTimeout string `mapstructure:"command_timeout"`
	Cron           string `mapstructure:"cron"`

	VaultAddr     string `mapstructure:"vault_addr"`
	VaultToken    string `mapstructure:"vault_token"`
	VaultRoleID   string `mapstructure:"vault_role_id"`
	VaultRoleName string `mapstructure:"vault_role_name"`
	VaultKeyPath  string `mapstructure:"vault_key_path"`
	VaultKeyField string `mapstructure:"vault_key_field"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// defaults registers every key so that AutomaticEnv values reach Unmarshal.
var defaults = map[string]any{
	"include":           []string{},
	"name":              "",
	"postgres":          "",
	"mongodb":           "",
	"dirs":              "",
	"files":             "",
	"local_path":        "",
	"s3_bucket":         "",
	"s3_endpoint":       "s3.amazonaws.com",
	"s3_region":         "",
	"s3_access_key":     "",
	"s3_secret_key":     "",
	"s3_prefix":         "",
	"s3_insecure":       false,
	"encryption_key":    "",
	"stop_services":     "",
	"stop_wait":         "0",
	"start_wait":        "0",
	"retention_recent":  14,
	"retention_daily":   7,
	"retention_weekly":  4,
	"retention_monthly": 0,
	"retention_yearly":  0,
	"success_webhook":   "",
	"failure_webhook":   "",
	"tmp_dir":           "",
	"compose_project":   "",
	"pg_bin_dir":        "/usr/lib/postgresql/%d/bin",
	"command_timeout":   "1h",
	"cron":              "0 3 * * *",
	"vault_addr":        "",
	"vault_token":       "",
	"vault_role_id":     "",
	"vault_role_name":   "",
	"vault_key_path":    "",
	"vault_key_field":   "passphrase",
	"log_level":         "info",
	"log_format":        "console",
}

// Load reads BACKUP_* environment variables and, when path is set, a YAML
// file (plus any files it includes). Environment values win over the file.
// The result is not validated; call Validate before acting on it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
		}

		for _, inc := range v.GetStringSlice("include") {
			data, err := os.ReadFile(inc)
			if err != nil {
				return Config{}, fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
			}
			if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
				return Config{}, fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
			}
		}
	}

	var raw rawConfig
	if err := v.UnmarshalExact(&raw); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	cfg, err := raw.build()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	return cfg, nil
}

func (r rawConfig) build() (Config, error) {
	var err error
	cfg := Config{
		Name:          strings.TrimSpace(r.Name),
		EncryptionKey: r.EncryptionKey,
		Local:         LocalConfig{Path: strings.TrimSpace(r.LocalPath)},
		S3: storage.S3Config{
			Bucket:    strings.TrimSpace(r.S3Bucket),
			Endpoint:  strings.TrimSpace(r.S3Endpoint),
			Region:    r.S3Region,
			AccessKey: r.S3AccessKey,
			SecretKey: r.S3SecretKey,
			Prefix:    r.S3Prefix,
			Insecure:  r.S3Insecure,
		},
		Retention: retention.Policy{
			Recent:  r.RetentionRecent,
			Daily:   r.RetentionDaily,
			Weekly:  r.RetentionWeekly,
			Monthly: r.RetentionMonthly,
			Yearly:  r.RetentionYearly,
		},
		Webhooks: WebhookConfig{
			Success: strings.TrimSpace(r.SuccessWebhook),
			Failure: strings.TrimSpace(r.FailureWebhook),
		},
		TmpDir:         r.TmpDir,
		ComposeProject: r.ComposeProject,
		PGBinDir:       r.PGBinDir,
		Cron:           strings.TrimSpace(r.Cron),
		Vault: VaultConfig{
			Address:  r.VaultAddr,
			Token:    r.VaultToken,
			RoleID:   r.VaultRoleID,
			RoleName: r.VaultRoleName,
			KeyPath:  r.VaultKeyPath,
			KeyField: r.VaultKeyField,
		},
		Log: logger.Options{Level: r.LogLevel, Format: r.LogFormat},
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}

	if cfg.Postgres, err = splitList(r.Postgres, "\n"); err != nil {
		return Config{}, fmt.Errorf("postgres: %v", err)
	}
	if cfg.MongoDB, err = splitList(r.MongoDB, "\n"); err != nil {
		return Config{}, fmt.Errorf("mongodb: %v", err)
	}
	if cfg.Dirs, err = mounts(r.Dirs); err != nil {
		return Config{}, fmt.Errorf("dirs: %v", err)
	}
	if cfg.Files, err = mounts(r.Files); err != nil {
		return Config{}, fmt.Errorf("files: %v", err)
	}
	if cfg.Services.Stop, err = splitList(r.StopServices, ","); err != nil {
		return Config{}, fmt.Errorf("stop_services: %v", err)
	}
	if cfg.Services.StopWait, err = ParseWait(r.StopWait); err != nil {
		return Config{}, fmt.Errorf("stop_wait: %v", err)
	}
	if cfg.Services.StartWait, err = ParseWait(r.StartWait); err != nil {
		return Config{}, fmt.Errorf("start_wait: %v", err)
	}
	if cfg.CommandTimeout, err = ParseWait(r.CommandTimeout); err != nil {
		return Config{}, fmt.Errorf("command_timeout: %v", err)
	}
	return cfg, nil
}

// ParseWait accepts whole seconds ("30") or a Go duration ("1m30s").
// Empty means zero.
func ParseWait(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.Atoi(s); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// splitList accepts a separator-delimited string (environment) or a list
// (YAML). Blank entries are dropped.
func splitList(value any, sep string) ([]string, error) {
	var parts []string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		parts = strings.Split(v, sep)
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item %v is not a string", item)
			}
			parts = append(parts, s)
		}
	default:
		return nil, fmt.Errorf("unsupported value of type %T", value)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func mounts(value any) ([]backup.Mount, error) {
	specs, err := splitList(value, ",")
	if err != nil {
		return nil, err
	}
	out := make([]backup.Mount, 0, len(specs))
	for _, spec := range specs {
		m, err := backup.ParseMount(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
