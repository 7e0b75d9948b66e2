// Package config loads the server's environment-variable configuration
// through viper, generalizing the teacher's _teacher_ref/cobra_cli.go
// viper wiring (SetConfigName/AddConfigPath/ReadInConfig) from its
// file-plus-flags chat-client config to this service's pure env-var
// surface (§6 Configuration).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-variable setting SPEC_FULL.md §6 names.
type Config struct {
	LLMAPIKeys []string
	LLMModel   string

	ToolStoreDBPath string
	ToolSourceDir   string

	JWTSecret     string
	AdminUsername string
	AdminPassword string
	AuthTokenTTL  time.Duration

	HTTPPort int

	SandboxDockerBin string
	SandboxBaseImage string
	MaxIterations    int
	Debug            bool
}

// Load reads configuration from the process environment via viper's
// AutomaticEnv binding, applying the same defaults SPEC_FULL.md §6 names.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("llm_model", "gemini-2.5-flash")
	v.SetDefault("tool_store_db_path", "./data/tools.json")
	v.SetDefault("tool_source_dir", "./data/tool_sources")
	v.SetDefault("admin_username", "admin")
	v.SetDefault("http_port", 8080)
	v.SetDefault("sandbox_docker_bin", "docker")
	v.SetDefault("sandbox_base_image", "golang:1.22-alpine")
	v.SetDefault("max_iterations", 10)
	v.SetDefault("auth_token_ttl", "24h")
	v.SetDefault("debug", false)

	keys := collectAPIKeys(v)
	if len(keys) == 0 {
		return nil, fmt.Errorf("config: at least one LLM_API_KEY_N must be set")
	}

	secret := v.GetString("jwt_secret")
	if secret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	password := v.GetString("admin_password")
	if password == "" {
		return nil, fmt.Errorf("config: ADMIN_PASSWORD is required")
	}

	ttl, err := time.ParseDuration(v.GetString("auth_token_ttl"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid AUTH_TOKEN_TTL: %w", err)
	}

	return &Config{
		LLMAPIKeys:       keys,
		LLMModel:         v.GetString("llm_model"),
		ToolStoreDBPath:  v.GetString("tool_store_db_path"),
		ToolSourceDir:    v.GetString("tool_source_dir"),
		JWTSecret:        secret,
		AdminUsername:    v.GetString("admin_username"),
		AdminPassword:    password,
		AuthTokenTTL:     ttl,
		HTTPPort:         v.GetInt("http_port"),
		SandboxDockerBin: v.GetString("sandbox_docker_bin"),
		SandboxBaseImage: v.GetString("sandbox_base_image"),
		MaxIterations:    v.GetInt("max_iterations"),
		Debug:            v.GetBool("debug"),
	}, nil
}

// collectAPIKeys reads LLM_API_KEY_1, LLM_API_KEY_2, ... until a gap,
// matching the Python GeminiAPIManager's numbered-key-list convention.
func collectAPIKeys(v *viper.Viper) []string {
	var keys []string
	for i := 1; ; i++ {
		key := v.GetString(fmt.Sprintf("llm_api_key_%d", i))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	return keys
}
