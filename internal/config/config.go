// Package config loads application configuration from environment variables
// and an optional TOML rules file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken string
	UserLogin   string

	PollInterval    time.Duration
	RecentWindow    time.Duration
	RepoConcurrency int
	PRConcurrency   int

	ListenAddr string
	DBPath     string
	RulesPath  string

	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string
}

// HasGitHubToken reports whether remote sync can run at all.
func (c *Config) HasGitHubToken() bool {
	return c.GitHubToken != ""
}

// HasLLM reports whether the enrichment features can be wired.
func (c *Config) HasLLM() bool {
	return c.LLMEndpoint != "" && c.LLMModel != ""
}

// Load reads configuration from the environment and returns a validated
// Config. A .env file in the working directory is loaded first when present.
//
// Required: PULLWATCH_GITHUB_TOKEN (sync stays inactive without it, the API
// still serves stored state). Optional with defaults:
// PULLWATCH_POLL_INTERVAL (5m), PULLWATCH_RECENT_WINDOW (24h),
// PULLWATCH_REPO_CONCURRENCY (4), PULLWATCH_PR_CONCURRENCY (4),
// PULLWATCH_LISTEN_ADDR (127.0.0.1:8080), PULLWATCH_DB_PATH (pullwatch.db),
// PULLWATCH_RULES_PATH (pullwatch.toml). Enrichment activates when
// PULLWATCH_LLM_ENDPOINT and PULLWATCH_LLM_MODEL are both set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		GitHubToken: os.Getenv("PULLWATCH_GITHUB_TOKEN"),
		UserLogin:   os.Getenv("PULLWATCH_USER_LOGIN"),
		ListenAddr:  envOr("PULLWATCH_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:      envOr("PULLWATCH_DB_PATH", "pullwatch.db"),
		RulesPath:   envOr("PULLWATCH_RULES_PATH", "pullwatch.toml"),
		LLMEndpoint: os.Getenv("PULLWATCH_LLM_ENDPOINT"),
		LLMAPIKey:   os.Getenv("PULLWATCH_LLM_API_KEY"),
		LLMModel:    os.Getenv("PULLWATCH_LLM_MODEL"),
	}

	var err error
	if cfg.PollInterval, err = envDuration("PULLWATCH_POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RecentWindow, err = envDuration("PULLWATCH_RECENT_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RepoConcurrency, err = envInt("PULLWATCH_REPO_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.PRConcurrency, err = envInt("PULLWATCH_PR_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	if cfg.PollInterval < time.Minute {
		return nil, fmt.Errorf("PULLWATCH_POLL_INTERVAL %s is below the 1m minimum", cfg.PollInterval)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return parsed, nil
}
