package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"abmarket/internal/domain"
)

// Agent activation modes for the market driver.
const (
	ModeSingleAgent   = "single_agent_per_step"
	ModePartialAgents = "partial_agents_per_step"
	ModeAllAgents     = "all_agents_per_step"
)

// Experiment modes for the runner.
const (
	ExperimentSingle = "single"
	ExperimentPaired = "paired"
)

// MarketConfig drives the fundamental price process and the step loop.
type MarketConfig struct {
	FundamentalPrice      float64 `yaml:"fundamental_price"`
	FundamentalVolatility float64 `yaml:"fundamental_volatility"`
	FundamentalDrift      float64 `yaml:"fundamental_drift"`
	Mode                  string  `yaml:"mode"`
	ActivationRatio       float64 `yaml:"activation_ratio"`
	MaxTimesteps          int     `yaml:"max_timesteps"`
}

// TraderParams holds the per-population draw scales. RiskAversion and
// ParticipationProb only apply to institutional agents.
type TraderParams struct {
	InitialStockMax   int     `yaml:"initial_stock_max"`
	FundamentalSigma  float64 `yaml:"fundamental_sigma"`
	ChartistSigma     float64 `yaml:"chartist_sigma"`
	NoiseSigma        float64 `yaml:"noise_sigma"`
	RiskAversion      float64 `yaml:"risk_aversion"`
	ParticipationProb float64 `yaml:"participation_prob"`
}

// AgentsConfig sizes and parameterizes the two agent populations.
type AgentsConfig struct {
	Count              int          `yaml:"count"`
	RetailRatio        float64      `yaml:"retail_ratio"`
	ReferenceTauF      float64      `yaml:"reference_tau_f"`
	NoiseStd           float64      `yaml:"noise_std"`
	BullyNoiseAmplify  float64      `yaml:"bully_noise_amplify"`
	EmotionInitialBias float64      `yaml:"emotion_initial_bias"`
	EmotionWeightSigma float64      `yaml:"emotion_weight_sigma"`
	Retail             TraderParams `yaml:"retail"`
	Institutional      TraderParams `yaml:"institutional"`
}

// SocialConfig parameterizes the cyberbullying contagion model.
type SocialConfig struct {
	EnableCyberbullying bool    `yaml:"enable_cyberbullying"`
	NetworkType         string  `yaml:"network_type"`
	AverageDegree       int     `yaml:"average_degree"`
	BornBullyRatio      float64 `yaml:"born_bully_ratio"`
	ExposureThreshold   float64 `yaml:"exposure_threshold"`
	CooldownDuration    int     `yaml:"cooldown_duration"`
	SuppressionProb     float64 `yaml:"suppression_prob"`
	MaxSuppression      float64 `yaml:"max_suppression"`
	SigmoidK            float64 `yaml:"sigmoid_k"`
	EmotionShrinkFactor float64 `yaml:"emotion_shrink_factor"`

	ResilienceGrowth      float64 `yaml:"resilience_growth"`
	EnableBullyResilience bool    `yaml:"enable_bully_resilience"`

	EnableBullyInfect bool    `yaml:"enable_bully_infect"`
	BullyInfectProb   float64 `yaml:"bully_infect_prob"`
	BullyAmplify      float64 `yaml:"bully_amplify"`

	EnableRegulator   bool `yaml:"enable_regulator"`
	RegulatorInterval int  `yaml:"regulator_interval"`
	RegulatorCooldown int  `yaml:"regulator_cooldown"`

	EnableBullyReport       bool    `yaml:"enable_bully_report"`
	RegulatorReportProb     float64 `yaml:"regulator_report_prob"`
	RegulatorReportCooldown int     `yaml:"regulator_report_cooldown"`
}

// SimulationConfig selects the experiment flavor and seeds the RNG.
type SimulationConfig struct {
	RandomSeed     uint64 `yaml:"random_seed"`
	ExperimentMode string `yaml:"experiment_mode"`
	NSimulations   int    `yaml:"n_simulations"`
}

// Config holds every setting of the application. Deploy-sensitive values
// can be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Market     MarketConfig     `yaml:"market"`
	Agents     AgentsConfig     `yaml:"agents"`
	Social     SocialConfig     `yaml:"social"`
	Simulation SimulationConfig `yaml:"simulation"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Stream struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"stream"`

	Report struct {
		Dir    string `yaml:"dir"`
		Charts bool   `yaml:"charts"`
	} `yaml:"report"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Market.FundamentalPrice <= 0 {
		return configErr("market.fundamental_price", "must be positive")
	}
	if c.Market.FundamentalVolatility < 0 {
		return configErr("market.fundamental_volatility", "must not be negative")
	}
	if c.Market.MaxTimesteps <= 0 {
		return configErr("market.max_timesteps", "must be positive")
	}
	switch c.Market.Mode {
	case ModeSingleAgent, ModeAllAgents:
	case ModePartialAgents:
		if c.Market.ActivationRatio <= 0 || c.Market.ActivationRatio > 1 {
			return configErr("market.activation_ratio", "must be in (0, 1]")
		}
	default:
		return &domain.ConfigError{Field: "market.mode", Err: fmt.Errorf("%w: %q", domain.ErrUnknownMode, c.Market.Mode)}
	}

	if c.Agents.Count < 1 {
		return configErr("agents.count", "must be at least 1")
	}
	if c.Agents.RetailRatio < 0 || c.Agents.RetailRatio > 1 {
		return configErr("agents.retail_ratio", "must be in [0, 1]")
	}
	if c.Agents.ReferenceTauF <= 0 {
		return configErr("agents.reference_tau_f", "must be positive")
	}
	if c.Agents.NoiseStd < 0 {
		return configErr("agents.noise_std", "must not be negative")
	}
	if err := validateParams("agents.retail", c.Agents.Retail); err != nil {
		return err
	}
	if err := validateParams("agents.institutional", c.Agents.Institutional); err != nil {
		return err
	}
	if c.Agents.Institutional.RiskAversion <= 0 {
		return configErr("agents.institutional.risk_aversion", "must be positive")
	}
	if p := c.Agents.Institutional.ParticipationProb; p < 0 || p > 1 {
		return configErr("agents.institutional.participation_prob", "must be in [0, 1]")
	}

	if c.Social.EnableCyberbullying {
		if c.Social.NetworkType != "small_world" && c.Social.NetworkType != "random" {
			return configErr("social.network_type", "must be small_world or random")
		}
		if c.Social.BornBullyRatio < 0 || c.Social.BornBullyRatio > 1 {
			return configErr("social.born_bully_ratio", "must be in [0, 1]")
		}
		if c.Social.ExposureThreshold <= 0 {
			return configErr("social.exposure_threshold", "must be positive")
		}
		if c.Social.CooldownDuration < 0 {
			return configErr("social.cooldown_duration", "must not be negative")
		}
		if c.Social.EnableRegulator && c.Social.RegulatorInterval <= 0 {
			return configErr("social.regulator_interval", "must be positive when the regulator is enabled")
		}
	}

	switch c.Simulation.ExperimentMode {
	case ExperimentSingle:
	case ExperimentPaired:
		if c.Simulation.NSimulations < 1 {
			return configErr("simulation.n_simulations", "must be at least 1")
		}
	default:
		return configErr("simulation.experiment_mode", "must be single or paired")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return configErr("logging.level", "must be debug, info, warn or error")
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		return configErr("storage.path", "required when storage is enabled")
	}
	if c.Stream.Enabled && c.Stream.Addr == "" {
		return configErr("stream.addr", "required when the stream is enabled")
	}

	return nil
}

func validateParams(section string, p TraderParams) error {
	if p.InitialStockMax <= 0 {
		return configErr(section+".initial_stock_max", "must be positive")
	}
	if p.FundamentalSigma < 0 || p.ChartistSigma < 0 || p.NoiseSigma < 0 {
		return configErr(section, "strategy sigmas must not be negative")
	}
	return nil
}

func configErr(field, reason string) error {
	return &domain.ConfigError{Field: field, Err: errors.New(reason)}
}

// overrideWithEnv applies environment overrides for deploy-sensitive values.
func overrideWithEnv(cfg *Config) {
	if level := os.Getenv("ABMARKET_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("ABMARKET_LOG_DIR"); dir != "" {
		cfg.Logging.Dir = dir
	}
	if path := os.Getenv("ABMARKET_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("ABMARKET_STREAM_ADDR"); addr != "" {
		cfg.Stream.Addr = addr
	}
	if seed := os.Getenv("ABMARKET_SEED"); seed != "" {
		if v, err := strconv.ParseUint(seed, 10, 64); err == nil {
			cfg.Simulation.RandomSeed = v
		}
	}
}
