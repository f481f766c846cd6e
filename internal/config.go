package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store modes.
const (
	StoreModeSQLite = "sqlite"
	StoreModeFile   = "file"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Store StoreConfig       `yaml:"store"`
	AI    AIConfig          `yaml:"ai"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.AI.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects and locates the session store backend.
//
// Mode controls where sessions are persisted:
//   - "sqlite" (default): a single SQLite database at Path.
//   - "file": plain JSON files under Dir, rewritten atomically.
type StoreConfig struct {
	Mode string `yaml:"mode"`
	Path string `yaml:"path"`
	Dir  string `yaml:"dir"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = StoreModeSQLite
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(StoreModeSQLite, StoreModeFile)),
	); err != nil {
		return err
	}
	if c.Mode == StoreModeSQLite && c.Path == "" {
		return fmt.Errorf("store: mode is %q but path is empty", StoreModeSQLite)
	}
	if c.Mode == StoreModeFile && c.Dir == "" {
		return fmt.Errorf("store: mode is %q but dir is empty", StoreModeFile)
	}
	return nil
}

// AIConfig holds the model transport configuration. BaseURL is optional and
// points the OpenAI-compatible client at an alternative endpoint.
type AIConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	ChatModel         string `yaml:"chat_model"`
	LabelModel        string `yaml:"label_model"`
	SystemInstruction string `yaml:"system_instruction"`
}

// Validate validates the AI configuration.
func (c *AIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChatModel, validation.Required),
		validation.Field(&c.LabelModel, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Mode: StoreModeSQLite,
			Path: "./ansuz.db",
			Dir:  "./data",
		},
		AI: AIConfig{
			ChatModel:         "gpt-4o",
			LabelModel:        "gpt-4o-mini",
			SystemInstruction: "You are a helpful AI assistant. Answer concisely and clearly.",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
