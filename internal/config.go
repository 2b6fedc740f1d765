package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mira/internal/structure"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Execution target modes.
const (
	TargetModeRCON = "rcon"
	TargetModeSim  = "sim"
)

// Oracle modes.
const (
	OracleModeMock  = "mock"
	OracleModeGenAI = "genai"
)

// Deconstruction planner modes.
const (
	PlannerTier   = "tier"
	PlannerOracle = "oracle"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Auth      AuthConfig        `yaml:"auth"`
	Input     InputConfig       `yaml:"input"`
	Output    OutputConfig      `yaml:"output"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Target    TargetConfig      `yaml:"target"`
	Oracle    OracleConfig      `yaml:"oracle"`
	Generator GeneratorConfig   `yaml:"generator"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Auth, &c.Input, &c.Output, &c.SQLite, &c.Target, &c.Oracle, &c.Generator,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, receives a copy of every log line.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds status server configuration.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.When(c.Enabled, validation.Required), validation.Min(0), validation.Max(65535)),
	)
}

// InputConfig describes where schematics are read from.
type InputConfig struct {
	Dir string `yaml:"dir"`
	// Watch keeps the process running and queues new or changed files.
	Watch bool `yaml:"watch"`
	// Extensions restricts the accepted file types; empty accepts every
	// supported format.
	Extensions []string `yaml:"extensions"`
}

// Validate validates the input configuration.
func (c *InputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.In(
			"litematic", ".litematic", "yaml", ".yaml", "yml", ".yml",
		))),
	)
}

// OutputConfig holds the dataset file locations.
type OutputConfig struct {
	Path               string `yaml:"path"`
	DeconstructionPath string `yaml:"deconstruction_path"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.DeconstructionPath, validation.Required),
	)
}

// SQLiteConfig holds the run ledger location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
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

// TargetConfig selects and tunes the execution target.
type TargetConfig struct {
	Mode     string        `yaml:"mode"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	// Origin is the world position the schematic's (0,0,0) is built at.
	Origin      [3]int        `yaml:"origin"`
	OpsPerTick  int           `yaml:"ops_per_tick"`
	MaxAttempts int           `yaml:"max_attempts"`
	UseUpdates  bool          `yaml:"use_updates"`
	ForceUpdate bool          `yaml:"force_update"`
	SettleTicks int           `yaml:"settle_ticks"`
	TickLength  time.Duration `yaml:"tick_length"`
}

// Validate validates the target configuration.
func (c *TargetConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(TargetModeRCON, TargetModeSim)),
		validation.Field(&c.Address, validation.When(c.Mode == TargetModeRCON, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.OpsPerTick, validation.Min(1)),
		validation.Field(&c.MaxAttempts, validation.Min(1)),
		validation.Field(&c.SettleTicks, validation.Min(0)),
		validation.Field(&c.TickLength, validation.Min(time.Duration(0))),
	)
}

// OriginPos returns Origin as a position.
func (c *TargetConfig) OriginPos() structure.Position {
	return structure.Position{X: c.Origin[0], Y: c.Origin[1], Z: c.Origin[2]}
}

// OracleConfig selects the contract and explanation oracle.
type OracleConfig struct {
	Mode   string `yaml:"mode"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// Validate validates the oracle configuration.
func (c *OracleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(OracleModeMock, OracleModeGenAI)),
		validation.Field(&c.APIKey, validation.When(c.Mode == OracleModeGenAI, validation.Required)),
	)
}

// GeneratorConfig tunes sample generation.
type GeneratorConfig struct {
	SamplesPerSchematic int `yaml:"samples_per_schematic"`
	RetryBudget         int `yaml:"retry_budget"`
	// Seed makes corruption reproducible; zero picks a random seed.
	Seed     uint64 `yaml:"seed"`
	Resolver string `yaml:"resolver"`
	// Planner picks removal layers: "tier" classifies blocks locally,
	// "oracle" asks the oracle.
	Planner string `yaml:"planner"`
}

// Validate validates the generator configuration.
func (c *GeneratorConfig) Validate() error {
	c.Resolver = strings.ToLower(c.Resolver)
	if c.Planner == "" {
		c.Planner = PlannerTier
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.SamplesPerSchematic, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryBudget, validation.Required, validation.Min(1)),
		validation.Field(&c.Resolver, validation.In(
			structure.ResolverLocalFirst, structure.ResolverLocal, structure.ResolverAnchored,
		)),
		validation.Field(&c.Planner, validation.Required, validation.In(PlannerTier, PlannerOracle)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Enabled: true,
				Port:    8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Input: InputConfig{
			Dir: "./schematics",
		},
		Output: OutputConfig{
			Path:               "./dataset/samples.jsonl",
			DeconstructionPath: "./dataset/deconstruction.jsonl",
		},
		SQLite: SQLiteConfig{
			Path: "./mira.db",
		},
		Target: TargetConfig{
			Mode:        TargetModeSim,
			Address:     "127.0.0.1:25575",
			Timeout:     10 * time.Second,
			Origin:      [3]int{0, 100, 0},
			OpsPerTick:  64,
			MaxAttempts: 3,
			SettleTicks: 20,
			TickLength:  50 * time.Millisecond,
		},
		Oracle: OracleConfig{
			Mode: OracleModeMock,
		},
		Generator: GeneratorConfig{
			SamplesPerSchematic: 3,
			RetryBudget:         5,
			Resolver:            structure.ResolverLocalFirst,
			Planner:             PlannerTier,
		},
	}
}
