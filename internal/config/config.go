package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/23skdu/longbow-hesitation/internal/corpus"
	"github.com/23skdu/longbow-hesitation/internal/decoding"
	"github.com/23skdu/longbow-hesitation/internal/results"
)

const (
	EnvPrefix  = "HESITATION"
	EnvConfig  = "HESITATION_CONFIG"
	configName = "hesitation"

	// DefaultMaxOutputLength applies when neither the run config nor the
	// model config sets a step budget.
	DefaultMaxOutputLength = 100
)

type Config struct {
	Corpus   CorpusConfig   `mapstructure:"corpus"`
	Decoding DecodingConfig `mapstructure:"decoding"`
	Model    ModelConfig    `mapstructure:"model"`
	Results  ResultsConfig  `mapstructure:"results"`
	Log      LogConfig      `mapstructure:"log"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

type CorpusConfig struct {
	Dir          string `mapstructure:"dir"`
	SourceSuffix string `mapstructure:"source_suffix"`
	TargetSuffix string `mapstructure:"target_suffix"`
}

type DecodingConfig struct {
	Mode string `mapstructure:"mode"`
	TopK int    `mapstructure:"top_k"`
	// Seed 0 seeds sampling from the clock.
	Seed uint64 `mapstructure:"seed"`
	// MaxOutputLength 0 defers to the model config.
	MaxOutputLength   int  `mapstructure:"max_output_length"`
	KeepDistributions bool `mapstructure:"keep_distributions"`
}

type ModelConfig struct {
	// Config is the JoeyNMT YAML of the trained model.
	Config string `mapstructure:"config"`
	// Addr is the Flight endpoint serving the encode and decode actions.
	Addr     string `mapstructure:"addr"`
	SrcVocab string `mapstructure:"src_vocab"`
	TrgVocab string `mapstructure:"trg_vocab"`
}

type ResultsConfig struct {
	Dir        string `mapstructure:"dir"`
	Format     string `mapstructure:"format"`
	UploadAddr string `mapstructure:"upload_addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MonitorConfig struct {
	Addr string `mapstructure:"addr"`
}

func Default() Config {
	return Config{
		Corpus: CorpusConfig{
			Dir:          ".",
			SourceSuffix: corpus.DefaultSourceSuffix,
			TargetSuffix: corpus.DefaultTargetSuffix,
		},
		Decoding: DecodingConfig{
			Mode: decoding.Forced.String(),
			TopK: 10,
		},
		Results: ResultsConfig{
			Dir:    "results",
			Format: string(results.FormatJSON),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *Config) Validate() error {
	mode, err := decoding.ParseMode(c.Decoding.Mode)
	if err != nil {
		return err
	}
	if mode == decoding.TopK && c.Decoding.TopK <= 0 {
		return fmt.Errorf("invalid top_k: %d (must be positive)", c.Decoding.TopK)
	}
	if c.Decoding.MaxOutputLength < 0 {
		return fmt.Errorf("invalid max_output_length: %d (must be non-negative)", c.Decoding.MaxOutputLength)
	}
	if _, err := results.ParseFormat(c.Results.Format); err != nil {
		return err
	}
	if c.Results.Dir == "" {
		return fmt.Errorf("results dir is required")
	}
	if c.Corpus.SourceSuffix == "" {
		return fmt.Errorf("corpus source_suffix is required")
	}
	if mode.UsesGold() && c.Corpus.TargetSuffix == "" {
		return fmt.Errorf("corpus target_suffix is required for %s decoding", mode)
	}
	if c.Model.Addr == "" {
		return fmt.Errorf("model addr is required")
	}
	if c.Model.Config == "" && (c.Model.SrcVocab == "" || c.Model.TrgVocab == "") {
		return fmt.Errorf("model config or both src_vocab and trg_vocab are required")
	}
	return nil
}

// Mode returns the parsed decoding mode. Call Validate first.
func (c *Config) Mode() decoding.Mode {
	m, _ := decoding.ParseMode(c.Decoding.Mode)
	return m
}

// Format returns the parsed results format. Call Validate first.
func (c *Config) Format() results.Format {
	f, _ := results.ParseFormat(c.Results.Format)
	return f
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("corpus.dir", d.Corpus.Dir)
	v.SetDefault("corpus.source_suffix", d.Corpus.SourceSuffix)
	v.SetDefault("corpus.target_suffix", d.Corpus.TargetSuffix)
	v.SetDefault("decoding.mode", d.Decoding.Mode)
	v.SetDefault("decoding.top_k", d.Decoding.TopK)
	v.SetDefault("decoding.seed", d.Decoding.Seed)
	v.SetDefault("decoding.max_output_length", d.Decoding.MaxOutputLength)
	v.SetDefault("decoding.keep_distributions", d.Decoding.KeepDistributions)
	v.SetDefault("model.config", "")
	v.SetDefault("model.addr", "")
	v.SetDefault("model.src_vocab", "")
	v.SetDefault("model.trg_vocab", "")
	v.SetDefault("results.dir", d.Results.Dir)
	v.SetDefault("results.format", d.Results.Format)
	v.SetDefault("results.upload_addr", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("monitor.addr", "")
}

// Load reads the run configuration. path, else $HESITATION_CONFIG, names
// the YAML file; without either, hesitation.yaml in the working directory
// is used when present. HESITATION_* variables override file values, e.g.
// HESITATION_DECODING_MODE=greedy.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ModelSettings is the part of a JoeyNMT model YAML the decoder needs.
type ModelSettings struct {
	ModelDir        string
	MaxOutputLength int
	SrcVocab        string
	TrgVocab        string
}

// LoadModelConfig reads a JoeyNMT model YAML. Vocabulary paths default to
// src_vocab.txt and trg_vocab.txt inside training.model_dir.
func LoadModelConfig(path string) (*ModelSettings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read model config %s: %w", path, err)
	}

	m := &ModelSettings{
		ModelDir:        v.GetString("training.model_dir"),
		MaxOutputLength: v.GetInt("training.max_output_length"),
		SrcVocab:        v.GetString("data.src_vocab"),
		TrgVocab:        v.GetString("data.trg_vocab"),
	}
	if m.SrcVocab == "" || m.TrgVocab == "" {
		if m.ModelDir == "" {
			return nil, fmt.Errorf("model config %s: training.model_dir is required when vocabularies are not listed", path)
		}
		if m.SrcVocab == "" {
			m.SrcVocab = filepath.Join(m.ModelDir, "src_vocab.txt")
		}
		if m.TrgVocab == "" {
			m.TrgVocab = filepath.Join(m.ModelDir, "trg_vocab.txt")
		}
	}
	if m.MaxOutputLength < 0 {
		return nil, fmt.Errorf("invalid training.max_output_length: %d (must be non-negative)", m.MaxOutputLength)
	}
	return m, nil
}

// Resolve merges the model YAML (when set) into the run config: explicit
// vocab paths and step budget win over the model's.
func (c *Config) Resolve() (*ModelSettings, error) {
	m := &ModelSettings{}
	if c.Model.Config != "" {
		loaded, err := LoadModelConfig(c.Model.Config)
		if err != nil {
			return nil, err
		}
		m = loaded
	}
	if c.Model.SrcVocab != "" {
		m.SrcVocab = c.Model.SrcVocab
	}
	if c.Model.TrgVocab != "" {
		m.TrgVocab = c.Model.TrgVocab
	}
	if c.Decoding.MaxOutputLength > 0 {
		m.MaxOutputLength = c.Decoding.MaxOutputLength
	}
	if m.MaxOutputLength == 0 {
		m.MaxOutputLength = DefaultMaxOutputLength
	}
	return m, nil
}
