package internal

import "github.com/starford/ansuz/internal/ai"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	transport ai.Transport
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithTransport overrides the model transport. Used by tests to inject a
// scripted transport instead of the OpenAI client.
func WithTransport(t ai.Transport) Option {
	return func(a *application) {
		a.transport = t
	}
}
