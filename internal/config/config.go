package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries client and mock backend settings, sourced from the environment.
type Config struct {
	API   APIConfig
	Token TokenConfig
	Vault VaultConfig
	Mock  MockConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type VaultConfig struct {
	FilePath    string
	Passphrase  string
	PostgresDSN string
}

type MockConfig struct {
	Addr            string
	TokenSecret     string
	LoginRateBurst  int
	LoginRatePerMin int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		API: APIConfig{
			BaseURL: getEnv("BIZTRECK_API_URL", "http://localhost:8080/api"),
			Timeout: time.Duration(getEnvInt("BIZTRECK_API_TIMEOUT_SEC", 10)) * time.Second,
		},
		Token: TokenConfig{
			AccessTTL:  time.Duration(getEnvInt("BIZTRECK_ACCESS_TTL_MIN", 15)) * time.Minute,
			RefreshTTL: time.Duration(getEnvInt("BIZTRECK_REFRESH_TTL_HOURS", 24*7)) * time.Hour,
		},
		Vault: VaultConfig{
			FilePath:    getEnv("BIZTRECK_VAULT_FILE", defaultVaultPath()),
			Passphrase:  getEnv("BIZTRECK_VAULT_PASSPHRASE", ""),
			PostgresDSN: getEnv("BIZTRECK_VAULT_PG_DSN", ""),
		},
		Mock: MockConfig{
			Addr:            getEnv("BIZTRECK_MOCK_ADDR", ":8080"),
			TokenSecret:     getEnv("BIZTRECK_MOCK_SECRET", "dev-only-secret"),
			LoginRateBurst:  getEnvInt("BIZTRECK_MOCK_LOGIN_BURST", 5),
			LoginRatePerMin: getEnvInt("BIZTRECK_MOCK_LOGIN_PER_MIN", 10),
			ReadTimeout:     time.Duration(getEnvInt("BIZTRECK_MOCK_READ_TIMEOUT_SEC", 15)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("BIZTRECK_MOCK_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("BIZTRECK_MOCK_SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,
		},
	}

	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("BIZTRECK_API_URL must not be empty")
	}
	if cfg.API.Timeout <= 0 {
		return Config{}, fmt.Errorf("BIZTRECK_API_TIMEOUT_SEC must be > 0")
	}
	if cfg.Token.AccessTTL <= 0 {
		return Config{}, fmt.Errorf("BIZTRECK_ACCESS_TTL_MIN must be > 0")
	}
	if cfg.Token.RefreshTTL <= cfg.Token.AccessTTL {
		return Config{}, fmt.Errorf("BIZTRECK_REFRESH_TTL_HOURS must exceed the access TTL")
	}
	if cfg.Mock.Addr == "" {
		return Config{}, fmt.Errorf("BIZTRECK_MOCK_ADDR must not be empty")
	}
	return cfg, nil
}

func defaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.biztreck/session.vault"
	}
	return home + "/.biztreck/session.vault"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
