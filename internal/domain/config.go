package domain

// Config holds the complete simulator configuration.
type Config struct {
	// Simulation parameters consumed by the generation engine
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Output files
	Output OutputConfig `json:"output" yaml:"output"`

	// Dataset screening rules
	Screening ScreeningConfig `json:"screening" yaml:"screening"`

	// Component configurations
	Server     ServerConfig     `json:"server" yaml:"server"`
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// SimulationConfig holds the parameters of the transaction generation engine.
type SimulationConfig struct {
	Name string `json:"name" yaml:"name" env:"AMLSIM_NAME" validate:"required"`
	Seed int64  `json:"seed" yaml:"seed" env:"RANDOM_SEED"`

	// Horizon: steps 0 .. TotalSteps-1 are simulated
	TotalSteps int64 `json:"total_steps" yaml:"total_steps" env:"AMLSIM_TOTAL_STEPS" validate:"gte=1"`

	// Default interval for normal models that do not set one
	TransactionInterval int64 `json:"transaction_interval" yaml:"transaction_interval" validate:"gte=1"`

	// Normal transaction amounts
	MinAmount      float64 `json:"min_amount" yaml:"min_amount" validate:"gte=0"`
	MaxAmount      float64 `json:"max_amount" yaml:"max_amount" validate:"gtefield=MinAmount"`
	MaxAmountRange float64 `json:"max_amount_range" yaml:"max_amount_range" validate:"gte=0"`
	NormalVariance float64 `json:"normal_variance" yaml:"normal_variance" validate:"gte=0"`

	// Typology amount shaping
	MarginRatio     float64 `json:"margin_ratio" yaml:"margin_ratio" validate:"gte=0,lte=1"`
	ScatterVariance float64 `json:"scatter_variance" yaml:"scatter_variance" validate:"gte=0"`
	GatherVariance  float64 `json:"gather_variance" yaml:"gather_variance" validate:"gte=0"`

	// Round amount affinity: Beta(alpha, beta) per actor.
	// A pair with a non-positive member falls back to the fixed probability.
	SARRoundAmountAlpha          float64 `json:"sar_round_amount_alpha" yaml:"sar_round_amount_alpha" validate:"gte=0"`
	SARRoundAmountBeta           float64 `json:"sar_round_amount_beta" yaml:"sar_round_amount_beta" validate:"gte=0"`
	NormalRoundAmountAlpha       float64 `json:"normal_round_amount_alpha" yaml:"normal_round_amount_alpha" validate:"gte=0"`
	NormalRoundAmountBeta        float64 `json:"normal_round_amount_beta" yaml:"normal_round_amount_beta" validate:"gte=0"`
	SARRoundAmountProbability    float64 `json:"sar_round_amount_probability" yaml:"sar_round_amount_probability" validate:"gte=0,lte=1"`
	NormalRoundAmountProbability float64 `json:"normal_round_amount_probability" yaml:"normal_round_amount_probability" validate:"gte=0,lte=1"`

	// Mean of the exponential start offset used by the biased-start scheduling policy
	StartBiasRange float64 `json:"start_bias_range" yaml:"start_bias_range" validate:"gte=0"`

	// Cap fan-out amounts by the originator balance
	BalanceLimited bool `json:"balance_limited" yaml:"balance_limited" env:"AMLSIM_BALANCE_LIMITED"`
}

// OutputConfig holds output file settings.
type OutputConfig struct {
	// Directory receives <name>/<transaction_log> and <name>/<counter_log>. Empty disables files.
	Directory      string `json:"directory" yaml:"directory" env:"AMLSIM_OUTPUT_DIR"`
	TransactionLog string `json:"transaction_log" yaml:"transaction_log"`
	CounterLog     string `json:"counter_log" yaml:"counter_log"`

	// Async publishes transactions on the event bus and persists them from a worker
	Async bool `json:"async" yaml:"async" env:"AMLSIM_ASYNC"`
}

// ScreeningConfig lists the rules scored against generated datasets.
type ScreeningConfig struct {
	Rules []ScreeningRule `json:"rules" yaml:"rules" validate:"dive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host" env:"AMLSIM_HOST"`
	Port         int    `json:"port" yaml:"port" env:"AMLSIM_PORT" validate:"gte=0,lte=65535"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"AMLSIM_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// DefaultConfig returns a configuration that runs entirely in-process:
// SQLite, channel bus and in-memory counters.
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Name:                         "sample",
			Seed:                         0,
			TotalSteps:                   720,
			TransactionInterval:          7,
			MinAmount:                    100,
			MaxAmount:                    1000,
			MaxAmountRange:               0,
			NormalVariance:               1.0,
			MarginRatio:                  0.1,
			ScatterVariance:              0.05,
			GatherVariance:               0.05,
			SARRoundAmountAlpha:          2,
			SARRoundAmountBeta:           5,
			NormalRoundAmountAlpha:       1,
			NormalRoundAmountBeta:        9,
			SARRoundAmountProbability:    0.3,
			NormalRoundAmountProbability: 0.1,
			StartBiasRange:               10,
		},
		Output: OutputConfig{
			Directory:      "outputs",
			TransactionLog: "tx_log.csv",
			CounterLog:     "tx_count.csv",
		},
		Screening: ScreeningConfig{
			Rules: []ScreeningRule{
				{ID: "round-amount", Name: "Round amount", Expression: "is_round"},
				{ID: "high-value", Name: "High value", Expression: "amount >= 900.0"},
			},
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 300,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./amlsim.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "osprey-sim",
		},
	}
}
