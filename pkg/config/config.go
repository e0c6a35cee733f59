package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                `json:"app" yaml:"app"`
	CData      CDataConfig              `json:"cdata" yaml:"cdata"`
	DataSource DataSourceConfig         `json:"data_source" yaml:"data_source"`
	LLM        LLMConfig                `json:"llm" yaml:"llm"`
	Cache      CacheConfig              `json:"cache" yaml:"cache"`
	Agent      AgentConfig              `json:"agent" yaml:"agent"`
	Gateways   map[string]GatewayConfig `json:"gateways" yaml:"gateways"`
	Memory     MemoryConfig             `json:"memory" yaml:"memory"`
}

type AppConfig struct {
	Name               string `json:"name" yaml:"name"`
	OutputDir          string `json:"output_dir" yaml:"output_dir" validate:"required"`
	PromptsDir         string `json:"prompts_dir,omitempty" yaml:"prompts_dir,omitempty"`
	LogLevel           string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	HTTPTimeoutSeconds int    `json:"http_timeout_seconds" yaml:"http_timeout_seconds" validate:"gte=1"`
}

// CDataConfig holds the credentials for the hosted MCP endpoint.
type CDataConfig struct {
	Email    string `json:"email" yaml:"email" validate:"required"`
	PAT      string `json:"pat" yaml:"pat" validate:"required"`
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	// Catalog forces a single catalog and skips catalog discovery.
	Catalog string `json:"catalog,omitempty" yaml:"catalog,omitempty"`
}

type DataSourceConfig struct {
	Kind                   string `json:"kind" yaml:"kind" validate:"oneof=salesforce google_sheets"`
	SalesforceConnection   string `json:"salesforce_connection" yaml:"salesforce_connection"`
	GoogleSheetsConnection string `json:"google_sheets_connection" yaml:"google_sheets_connection"`
}

type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider" validate:"required"`
	Model       string  `json:"model" yaml:"model" validate:"required"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
}

type CacheConfig struct {
	Path       string `json:"path" yaml:"path" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds" validate:"gte=0"`
}

type AgentConfig struct {
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	MaxTables     int `json:"max_tables" yaml:"max_tables" validate:"gte=1"`
}

// GatewayConfig configures an outbound notifier. Target is the Telegram chat
// id or the Discord channel id.
type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Target  string `json:"target" yaml:"target"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

// EntityTables names the tables holding accounts, opportunities and cases
// for a data source.
type EntityTables struct {
	Schema      string
	Account     string
	Opportunity string
	Case        string
}

const (
	DataSourceSalesforce   = "salesforce"
	DataSourceGoogleSheets = "google_sheets"

	DefaultEndpoint = "https://mcp.cloud.cdata.com/mcp"
)

// Options selects where Load reads configuration from.
type Options struct {
	// Path is an optional YAML or JSON file. A missing explicit file is an error.
	Path string
	// EnvFile is a dotenv file; its values override the process environment.
	// A missing file is ignored.
	EnvFile string
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	cacheDir := defaultCacheDir()
	return &Config{
		App: AppConfig{
			Name:               "healthbrief",
			OutputDir:          "output",
			LogLevel:           "info",
			HTTPTimeoutSeconds: 60,
		},
		CData: CDataConfig{
			Endpoint: DefaultEndpoint,
		},
		DataSource: DataSourceConfig{
			Kind:                   DataSourceGoogleSheets,
			SalesforceConnection:   "LangGraph_Customer_Health_Agent",
			GoogleSheetsConnection: "LangGraph_Customer_Health_Agent_Google_Sheet",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			MaxTokens: 1024,
		},
		Cache: CacheConfig{
			Path:       filepath.Join(cacheDir, "schema.json"),
			TTLSeconds: 86400,
		},
		Agent: AgentConfig{
			MaxIterations: 25,
			MaxTables:     20,
		},
		Gateways: map[string]GatewayConfig{},
		Memory: MemoryConfig{
			Type: "sqlite",
			Path: filepath.Join(cacheDir, "history.db"),
		},
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "healthbrief")
	}
	return filepath.Join(home, ".cache", "healthbrief")
}

// Load builds the configuration from defaults, the optional file, the dotenv
// file and finally the process environment. It does not validate.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.Path != "" {
		if err := cfg.readFile(opts.Path); err != nil {
			return nil, err
		}
	}

	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			if err := godotenv.Overload(opts.EnvFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}
	return nil
}

// ApplyEnv overlays environment variables on top of c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", key, v)
		}
		*dst = n
		return nil
	}

	str("CDATA_EMAIL", &c.CData.Email)
	str("CDATA_PAT", &c.CData.PAT)
	str("CDATA_CATALOG", &c.CData.Catalog)
	str("MCP_ENDPOINT", &c.CData.Endpoint)

	str("DATA_SOURCE", &c.DataSource.Kind)
	str("SALESFORCE_CONNECTION", &c.DataSource.SalesforceConnection)
	str("GOOGLE_SHEETS_CONNECTION", &c.DataSource.GoogleSheetsConnection)

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	// OPENAI_MODEL predates LLM_MODEL and is still honoured.
	if _, ok := lookup("LLM_MODEL"); !ok {
		str("OPENAI_MODEL", &c.LLM.Model)
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if keyVar := APIKeyVar(c.LLM.Provider); keyVar != "" {
		str(keyVar, &c.LLM.APIKey)
	}
	switch c.LLM.Provider {
	case "openai":
		str("OPENAI_API_BASE", &c.LLM.BaseURL)
	case "ollama":
		str("OLLAMA_HOST", &c.LLM.BaseURL)
	}

	str("OUTPUT_DIR", &c.App.OutputDir)
	str("PROMPTS_DIR", &c.App.PromptsDir)
	str("LOG_LEVEL", &c.App.LogLevel)
	c.App.LogLevel = strings.ToLower(c.App.LogLevel)
	str("SCHEMA_CACHE_PATH", &c.Cache.Path)
	str("HISTORY_DB", &c.Memory.Path)

	for key, dst := range map[string]*int{
		"SCHEMA_CACHE_TTL": &c.Cache.TTLSeconds,
		"MAX_ITERATIONS":   &c.Agent.MaxIterations,
		"MAX_TABLES":       &c.Agent.MaxTables,
		"HTTP_TIMEOUT":     &c.App.HTTPTimeoutSeconds,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	c.gatewayFromEnv(lookup, "telegram", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID")
	c.gatewayFromEnv(lookup, "discord", "DISCORD_TOKEN", "DISCORD_CHANNEL_ID")
	return nil
}

func (c *Config) gatewayFromEnv(lookup func(string) (string, bool), name, tokenVar, targetVar string) {
	token, _ := lookup(tokenVar)
	target, _ := lookup(targetVar)
	if token == "" && target == "" {
		return
	}
	gw := c.Gateways[name]
	if token != "" {
		gw.Token = token
	}
	if target != "" {
		gw.Target = target
	}
	gw.Enabled = gw.Token != "" && gw.Target != ""
	c.Gateways[name] = gw
}

// APIKeyVar returns the environment variable holding the API key for a
// provider, or "" when the provider needs none.
func APIKeyVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// envNames maps struct namespaces to the variable a user would set.
var envNames = map[string]string{
	"CData.Email":            "CDATA_EMAIL",
	"CData.PAT":              "CDATA_PAT",
	"CData.Endpoint":         "MCP_ENDPOINT",
	"DataSource.Kind":        "DATA_SOURCE",
	"LLM.Provider":           "LLM_PROVIDER",
	"LLM.Model":              "LLM_MODEL",
	"LLM.BaseURL":            "OPENAI_API_BASE",
	"Cache.TTLSeconds":       "SCHEMA_CACHE_TTL",
	"Cache.Path":             "SCHEMA_CACHE_PATH",
	"Agent.MaxIterations":    "MAX_ITERATIONS",
	"Agent.MaxTables":        "MAX_TABLES",
	"App.OutputDir":          "OUTPUT_DIR",
	"App.LogLevel":           "LOG_LEVEL",
	"App.HTTPTimeoutSeconds": "HTTP_TIMEOUT",
}

var validate = validator.New()

// Validate reports missing credentials and out-of-range settings.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			ns := strings.TrimPrefix(fe.StructNamespace(), "Config.")
			name := ns
			if env, ok := envNames[ns]; ok {
				name = env
			}
			if fe.Tag() == "required" {
				problems = append(problems, "missing "+name)
			} else {
				problems = append(problems, fmt.Sprintf("%s: failed %q check (value %v)", name, fe.Tag(), fe.Value()))
			}
		}
	}

	switch c.LLM.Provider {
	case "openai", "google", "anthropic", "ollama":
	case "":
	default:
		problems = append(problems, fmt.Sprintf("LLM_PROVIDER: unsupported provider %q", c.LLM.Provider))
	}
	if keyVar := APIKeyVar(c.LLM.Provider); keyVar != "" && c.LLM.APIKey == "" {
		problems = append(problems, "missing "+keyVar)
	}

	for name, gw := range c.Gateways {
		if gw.Enabled && (gw.Token == "" || gw.Target == "") {
			problems = append(problems, fmt.Sprintf("gateway %s: token and target are required when enabled", name))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Connection returns the catalog name of the configured data source. A
// forced CDATA_CATALOG wins.
func (c *Config) Connection() string {
	if c.CData.Catalog != "" {
		return c.CData.Catalog
	}
	if c.DataSource.Kind == DataSourceSalesforce {
		return c.DataSource.SalesforceConnection
	}
	return c.DataSource.GoogleSheetsConnection
}

// Tables returns the entity table names for the configured data source.
func (c *Config) Tables() EntityTables {
	if c.DataSource.Kind == DataSourceSalesforce {
		return EntityTables{
			Schema:      "Salesforce",
			Account:     "Account",
			Opportunity: "Opportunity",
			Case:        "Case",
		}
	}
	return EntityTables{
		Schema:      "GoogleSheets",
		Account:     "demo_organization_account",
		Opportunity: "demo_organization_opportunity",
		Case:        "demo_organization_tickets",
	}
}

// GetGateway returns a gateway config if it is enabled.
func (c *Config) GetGateway(name string) (GatewayConfig, bool) {
	gw, ok := c.Gateways[name]
	if ok && gw.Enabled {
		return gw, true
	}
	return GatewayConfig{}, false
}
