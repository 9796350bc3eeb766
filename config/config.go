package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m4xw311/arcadechat/errors"
	"gopkg.in/yaml.v3"
)

const (
	EnvUserID        = "ARCADE_USER_ID"
	EnvModel         = "OPENAI_MODEL"
	EnvArcadeAPIKey  = "ARCADE_API_KEY"
	EnvArcadeBaseURL = "ARCADE_BASE_URL"
	EnvToolLimit     = "ARCADE_TOOL_LIMIT"

	CheckpointMemory = "memory"
	CheckpointFile   = "file"

	// ExitKeyword ends the chat session, compared case-insensitively.
	ExitKeyword = "exit"
)

var (
	ErrMissingUserID = errors.Sentinel("missing " + EnvUserID)
	ErrMissingModel  = errors.Sentinel("missing " + EnvModel)
)

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Arcade struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type Config struct {
	LLMClient    string `yaml:"llm"`
	Model        string `yaml:"model"`
	UserID       string `yaml:"user_id"`
	ThreadID     string `yaml:"thread_id"`
	SystemPrompt string `yaml:"system_prompt"`

	// Toolkits are listed whole; Tools are fetched one by one. ToolLimit caps
	// how many definitions each toolkit listing returns.
	Toolkits  []string `yaml:"toolkits"`
	Tools     []string `yaml:"tools"`
	ToolLimit int      `yaml:"tool_limit"`

	// RequireApproval holds doublestar patterns matched against tool names.
	RequireApproval      []string    `yaml:"require_approval"`
	AdditionalMCPServers []MCPServer `yaml:"additional_mcp_servers"`
	Arcade               Arcade      `yaml:"arcade"`

	Checkpoint          string        `yaml:"checkpoint"`
	AuthTimeout         time.Duration `yaml:"auth_timeout"`
	ConcurrentAuthWaits bool          `yaml:"concurrent_auth_waits"`
	// MaxResumeRounds bounds interrupt/resume round trips per turn; 0 means unbounded.
	MaxResumeRounds int `yaml:"max_resume_rounds"`
}

// Default returns the configuration used before any file or environment value applies.
func Default() *Config {
	return &Config{
		LLMClient:    "openai",
		SystemPrompt: DefaultSystemPrompt,
		Toolkits:     []string{"E2B"},
		ToolLimit:    100,
		Arcade:       Arcade{BaseURL: "https://api.arcade.dev"},
		Checkpoint:   CheckpointMemory,
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. Environment variables
// override both files.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	home, _ := os.UserHomeDir()
	return load(home, wd, os.Getenv)
}

func load(home, wd string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	// Load user-level config first
	if home != "" {
		userConfigPath := filepath.Join(home, ".arcadechat", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	projectConfigPath := filepath.Join(wd, ".arcadechat", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so a
	// project file replaces user-level values key by key.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvUserID); v != "" {
		c.UserID = v
	}
	if v := getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := getenv(EnvArcadeAPIKey); v != "" {
		c.Arcade.APIKey = v
	}
	if v := getenv(EnvArcadeBaseURL); v != "" {
		c.Arcade.BaseURL = v
	}
	if v := getenv(EnvToolLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s %q", EnvToolLimit, v)
		}
		c.ToolLimit = n
	}
	return nil
}

// Validate reports every missing required value. Any error here is fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.UserID == "" {
		errs = append(errs, errors.Wrapf(ErrMissingUserID, "add it to your environment or set user_id"))
	}
	if c.Model == "" {
		errs = append(errs, errors.Wrapf(ErrMissingModel, "add it to your environment or set model"))
	}
	if strings.ContainsAny(c.ThreadID, `/\`) || c.ThreadID == "." || c.ThreadID == ".." {
		errs = append(errs, errors.New("invalid thread_id %q: must not contain path separators", c.ThreadID))
	}
	switch c.Checkpoint {
	case CheckpointMemory, CheckpointFile:
	default:
		errs = append(errs, errors.New("invalid checkpoint %q: must be %q or %q", c.Checkpoint, CheckpointMemory, CheckpointFile))
	}
	if c.ToolLimit < 0 {
		errs = append(errs, errors.New("tool_limit must not be negative, got %d", c.ToolLimit))
	}
	if c.AuthTimeout < 0 {
		errs = append(errs, errors.New("auth_timeout must not be negative, got %s", c.AuthTimeout))
	}
	if c.MaxResumeRounds < 0 {
		errs = append(errs, errors.New("max_resume_rounds must not be negative, got %d", c.MaxResumeRounds))
	}
	return errors.Join(errs...)
}
