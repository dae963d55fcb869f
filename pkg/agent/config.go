package agent

const (
	// DefaultModel answers requests that name no model.
	DefaultModel = "gemini-2.5-flash"

	DefaultTemperature = 0.5
	DefaultVerbosity   = 3
	DefaultMaxTurns    = 8
)

// Options is the client-supplied tuning block from the request's
// options form field. Pointer fields distinguish "absent" from an
// explicit zero, so temperature 0 survives the defaulting pass.
type Options struct {
	Model       *string  `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Verbosity   *int     `json:"verbosity,omitempty"`
	Debug       *bool    `json:"debug,omitempty"`
}

// Config is the resolved per-request agent configuration.
type Config struct {
	Model       string
	Temperature float64
	Verbosity   int
	Debug       bool

	// FileContext is the rendered upload, prepended to the system
	// prompt when present.
	FileContext string

	// MaxTurns bounds the tool-calling loop.
	MaxTurns int
}

// Resolve fills a Config from client options, applying defaults for
// absent fields.
func (o Options) Resolve() Config {
	cfg := Config{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		Verbosity:   DefaultVerbosity,
		MaxTurns:    DefaultMaxTurns,
	}
	if o.Model != nil && *o.Model != "" {
		cfg.Model = *o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.Verbosity != nil {
		cfg.Verbosity = *o.Verbosity
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	return cfg
}
