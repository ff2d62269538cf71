// Package config provides YAML configuration loading and validation for
// the GTP bridge.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bot configuration.
type Config struct {
	// Username is the bot's server account name. Required.
	Username string `yaml:"username"`
	// APIKey authenticates Username. Required.
	APIKey string `yaml:"apikey"`
	// Hidden starts the bot invisible to the public game list.
	Hidden bool `yaml:"hidden"`

	// BotCommand is the argv for the main engine, e.g. ["gnugo", "--mode", "gtp"].
	// Required.
	BotCommand []string `yaml:"bot_command"`
	// OpeningBot, EndingBot, ResignBot are optional argv overrides for
	// specialized roles; absent means that role's pool is not configured.
	OpeningBot []string `yaml:"opening_bot"`
	EndingBot  []string `yaml:"ending_bot"`
	ResignBot  []string `yaml:"resign_bot"`

	// PoolSize is the instance count per configured role. Defaults to 1.
	PoolSize int `yaml:"pool_size"`

	// OGSPV enables PV chat relay.
	OGSPV bool `yaml:"ogspv"`
	// AIChat enables DISCUSSION/MALKOVICH chat extraction.
	AIChat bool `yaml:"aichat"`
	// JSON enables JSON GTP transport instead of line mode.
	JSON bool `yaml:"json"`

	// Debug and Verbosity control logging.
	Debug     bool `yaml:"DEBUG"`
	Verbosity int  `yaml:"verbosity"`

	// NoClock skips clock translation entirely.
	NoClock bool `yaml:"noclock"`
	// StartupBufferMs is added to the offset computation on the first move.
	StartupBufferMs int64 `yaml:"startupbuffer"`
	// ShowBoard issues showboard at the end of state load.
	ShowBoard bool `yaml:"showboard"`

	AllowHandicap bool `yaml:"allow_handicap"`
	AllowUnranked bool `yaml:"allow_unranked"`

	// AllowedBoardSizes is "all", "square", or "list"; Sizes holds the
	// explicit dimensions when Mode is "list".
	AllowedBoardSizes BoardSizesConfig `yaml:"allowed_board_sizes"`

	AllowedTimeControlSystems []string `yaml:"allowed_time_control_systems"`

	AllowedBlitzSettings          SpeedSettingsConfig `yaml:"allowed_blitz_settings"`
	AllowedLiveSettings           SpeedSettingsConfig `yaml:"allowed_live_settings"`
	AllowedCorrespondenceSettings SpeedSettingsConfig `yaml:"allowed_correspondence_settings"`

	Blacklist []int64 `yaml:"blacklist"`
	Whitelist []int64 `yaml:"whitelist"`

	// AdminHTTPAddr is the listen address for the local operator HTTP
	// surface (e.g. "127.0.0.1:9000"). Defaults when omitted.
	AdminHTTPAddr string `yaml:"admin_http_addr"`
	// AdminJWTPublicKeyPath, when set, requires a Bearer token signed by
	// this RSA public key on the admin HTTP surface.
	AdminJWTPublicKeyPath string `yaml:"admin_jwt_public_key_path"`
	// TranscriptDBPath is the SQLite file backing the GTP transcript and
	// admission-decision log. Defaults to "transcript.db".
	TranscriptDBPath string `yaml:"transcript_db_path"`
	// ServerURL and APIBaseURL are the server's websocket and REST
	// endpoints.
	ServerURL  string `yaml:"server_url"`
	APIBaseURL string `yaml:"api_base_url"`
}

// BoardSizesConfig is the YAML shape of allowed_board_sizes: either the
// bare string "all" / "square", or a list of ints.
type BoardSizesConfig struct {
	Mode  string
	Sizes []int
}

// UnmarshalYAML implements custom decoding so allowed_board_sizes can be
// written in YAML as either a scalar ("all", "square") or a sequence of
// ints ([9, 13, 19]).
func (b *BoardSizesConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		b.Mode = value.Value
		return nil
	case yaml.SequenceNode:
		var sizes []int
		if err := value.Decode(&sizes); err != nil {
			return fmt.Errorf("allowed_board_sizes: %w", err)
		}
		b.Mode = "list"
		b.Sizes = sizes
		return nil
	default:
		return fmt.Errorf("allowed_board_sizes: expected a scalar or a sequence of ints")
	}
}

// SpeedSettingsConfig is one speed class's admission settings as read from
// YAML.
type SpeedSettingsConfig struct {
	Allowed          bool  `yaml:"allowed"`
	ConcurrentGames  int   `yaml:"concurrent_games"`
	PerMoveTimeRange []int `yaml:"per_move_time_range"`
	MainTimeRange    []int `yaml:"main_time_range"`
	PeriodsRange     []int `yaml:"periods_range"`
}

// Load reads the YAML file at path, rejecting unknown fields, applies
// defaults, and validates all required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.AdminHTTPAddr == "" {
		cfg.AdminHTTPAddr = "127.0.0.1:9000"
	}
	if cfg.TranscriptDBPath == "" {
		cfg.TranscriptDBPath = "transcript.db"
	}
	if cfg.AllowedBoardSizes.Mode == "" {
		cfg.AllowedBoardSizes.Mode = "all"
	}
	if cfg.Verbosity == 0 && cfg.Debug {
		cfg.Verbosity = 1
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if cfg.APIKey == "" {
		errs = append(errs, errors.New("apikey is required"))
	}
	if len(cfg.BotCommand) == 0 {
		errs = append(errs, errors.New("bot_command is required"))
	}
	if cfg.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if cfg.APIBaseURL == "" {
		errs = append(errs, errors.New("api_base_url is required"))
	}
	if !validBoardSizeModes[cfg.AllowedBoardSizes.Mode] {
		errs = append(errs, fmt.Errorf("allowed_board_sizes: %q must be \"all\", \"square\", or a list of ints", cfg.AllowedBoardSizes.Mode))
	}

	for _, s := range cfg.AllowedTimeControlSystems {
		if !validTimeControlSystems[s] {
			errs = append(errs, fmt.Errorf("allowed_time_control_systems: %q is not a recognized system", s))
		}
	}

	errs = append(errs, validateSpeed("allowed_blitz_settings", cfg.AllowedBlitzSettings)...)
	errs = append(errs, validateSpeed("allowed_live_settings", cfg.AllowedLiveSettings)...)
	errs = append(errs, validateSpeed("allowed_correspondence_settings", cfg.AllowedCorrespondenceSettings)...)

	return errors.Join(errs...)
}

var validBoardSizeModes = map[string]bool{"all": true, "square": true, "list": true}

var validTimeControlSystems = map[string]bool{
	"fischer": true, "byoyomi": true, "canadian": true, "simple": true, "absolute": true, "none": true,
}

func validateSpeed(name string, s SpeedSettingsConfig) []error {
	if !s.Allowed {
		return nil
	}
	var errs []error
	if s.ConcurrentGames <= 0 {
		errs = append(errs, fmt.Errorf("%s.concurrent_games must be > 0 when allowed", name))
	}
	if len(s.PerMoveTimeRange) != 0 && len(s.PerMoveTimeRange) != 2 {
		errs = append(errs, fmt.Errorf("%s.per_move_time_range must have exactly 2 elements", name))
	}
	if len(s.MainTimeRange) != 0 && len(s.MainTimeRange) != 2 {
		errs = append(errs, fmt.Errorf("%s.main_time_range must have exactly 2 elements", name))
	}
	if len(s.PeriodsRange) != 0 && len(s.PeriodsRange) != 2 {
		errs = append(errs, fmt.Errorf("%s.periods_range must have exactly 2 elements", name))
	}
	return errs
}
