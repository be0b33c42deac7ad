// Package config loads proxy settings from a config file with
// environment overrides. YAML is the primary format; JSON with comments
// is accepted for users migrating hand-edited files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/oa2a/oa2a/internal/json"
)

// EnvPrefix namespaces all environment overrides (OA2A_PORT and so on).
const EnvPrefix = "OA2A_"

// Settings is the full runtime configuration.
type Settings struct {
	// Upstream connection
	OpenAIAPIKey    string `yaml:"openai_api_key" json:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url" json:"openai_base_url"`
	OpenAIOrgID     string `yaml:"openai_org_id" json:"openai_org_id"`
	OpenAIProjectID string `yaml:"openai_project_id" json:"openai_project_id"`

	// Server
	Host           string  `yaml:"host" json:"host"`
	Port           int     `yaml:"port" json:"port"`
	RequestTimeout float64 `yaml:"request_timeout" json:"request_timeout"`

	// Optional bearer token required from clients.
	APIKey string `yaml:"api_key" json:"api_key"`

	// CORS
	CORSOrigins     []string `yaml:"cors_origins" json:"cors_origins"`
	CORSCredentials bool     `yaml:"cors_credentials" json:"cors_credentials"`
	CORSMethods     []string `yaml:"cors_methods" json:"cors_methods"`
	CORSHeaders     []string `yaml:"cors_headers" json:"cors_headers"`

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogDir   string `yaml:"log_dir" json:"log_dir"`

	// Web search backend
	TavilyAPIKey     string  `yaml:"tavily_api_key" json:"tavily_api_key"`
	TavilyBaseURL    string  `yaml:"tavily_base_url" json:"tavily_base_url"`
	TavilyTimeout    float64 `yaml:"tavily_timeout" json:"tavily_timeout"`
	TavilyMaxResults int     `yaml:"tavily_max_results" json:"tavily_max_results"`
	WebSearchMaxUses int     `yaml:"websearch_max_uses" json:"websearch_max_uses"`

	// Usage accounting database. Empty disables recording.
	UsageDBPath string `yaml:"usage_db_path" json:"usage_db_path"`
}

// Defaults returns the baseline configuration before file or env values
// are applied.
func Defaults() Settings {
	return Settings{
		OpenAIBaseURL:    "https://api.openai.com/v1",
		Host:             "0.0.0.0",
		Port:             8080,
		RequestTimeout:   300,
		CORSOrigins:      []string{"*"},
		CORSCredentials:  true,
		CORSMethods:      []string{"*"},
		CORSHeaders:      []string{"*"},
		LogLevel:         "info",
		TavilyTimeout:    30,
		TavilyMaxResults: 5,
		WebSearchMaxUses: 5,
	}
}

// Dir returns the configuration directory, honoring OA2A_CONFIG_DIR.
func Dir() string {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oa2a"
	}
	return filepath.Join(home, ".oa2a")
}

// Path returns the config file that Load will read: config.yaml if it
// exists, otherwise config.json. A missing file is not an error for
// Load, so the yaml path is also the answer when neither exists.
func Path() string {
	dir := Dir()
	yamlPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	jsonPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath
	}
	return yamlPath
}

// Load reads the config file, applies environment overrides and returns
// the result. A missing file yields defaults plus env.
func Load() (Settings, error) {
	s := Defaults()
	path := Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return s, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := parseInto(&s, path, data); err != nil {
		return s, err
	}
	applyEnv(&s)
	return s, nil
}

func parseInto(s *Settings, path string, data []byte) error {
	if strings.HasSuffix(path, ".json") {
		std, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := json.Unmarshal(std, s); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(s *Settings) {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setStr("OPENAI_API_KEY", &s.OpenAIAPIKey)
	setStr("OPENAI_BASE_URL", &s.OpenAIBaseURL)
	setStr("OPENAI_ORG_ID", &s.OpenAIOrgID)
	setStr("OPENAI_PROJECT_ID", &s.OpenAIProjectID)
	setStr("HOST", &s.Host)
	setInt("PORT", &s.Port)
	setFloat("REQUEST_TIMEOUT", &s.RequestTimeout)
	setStr("API_KEY", &s.APIKey)
	setStr("LOG_LEVEL", &s.LogLevel)
	setStr("LOG_DIR", &s.LogDir)
	setStr("TAVILY_API_KEY", &s.TavilyAPIKey)
	setStr("TAVILY_BASE_URL", &s.TavilyBaseURL)
	setFloat("TAVILY_TIMEOUT", &s.TavilyTimeout)
	setInt("TAVILY_MAX_RESULTS", &s.TavilyMaxResults)
	setInt("WEBSEARCH_MAX_USES", &s.WebSearchMaxUses)
	setStr("USAGE_DB_PATH", &s.UsageDBPath)
}

// UpstreamHeaders returns the auth headers for upstream requests.
func (s *Settings) UpstreamHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + s.OpenAIAPIKey,
	}
	if s.OpenAIOrgID != "" {
		headers["OpenAI-Organization"] = s.OpenAIOrgID
	}
	if s.OpenAIProjectID != "" {
		headers["OpenAI-Project"] = s.OpenAIProjectID
	}
	return headers
}

// ChatCompletionsURL joins the base URL with the completions path.
func (s *Settings) ChatCompletionsURL() string {
	return strings.TrimRight(s.OpenAIBaseURL, "/") + "/chat/completions"
}

// ModelsURL joins the base URL with the models path.
func (s *Settings) ModelsURL() string {
	return strings.TrimRight(s.OpenAIBaseURL, "/") + "/models"
}
