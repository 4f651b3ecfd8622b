// Package config loads llamaworker's ambient configuration: model-load and
// context defaults, the models directory, and logging verbosity, from (in
// increasing priority) built-in defaults, an optional YAML presets file,
// a .env file, and environment variables, layered with viper and godotenv.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"llamaworker/internal/llama"
)

// Config holds llamaworker's ambient configuration.
type Config struct {
	ModelsPath string `mapstructure:"models_path"`
	Verbose    bool   `mapstructure:"verbose"`

	Model   llama.ModelParams   `mapstructure:"-"`
	Context llama.ContextParams `mapstructure:"-"`
}

// Load reads configuration from (lowest to highest priority) built-in
// defaults, ./llamaworker.yaml, a .env file in the working directory, and
// LLAMAWORKER_-prefixed environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Debugf("config: .env not loaded: %v", err)
	}

	viper.SetConfigName("llamaworker")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("LLAMAWORKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	model := llama.DefaultModelParams()
	ctx := llama.DefaultContextParams()

	viper.SetDefault("verbose", false)
	viper.SetDefault("models_path", defaultModelsPath())
	viper.SetDefault("model.gpu_layers", model.GPULayers)
	viper.SetDefault("model.main_gpu", model.MainGPU)
	viper.SetDefault("model.vocab_only", model.VocabOnly)
	viper.SetDefault("model.use_mmap", model.UseMemoryMap)
	viper.SetDefault("model.use_mlock", model.UseMemoryLock)
	viper.SetDefault("context.size", ctx.ContextSize)
	viper.SetDefault("context.batch_size", ctx.BatchSize)
	viper.SetDefault("context.rope_freq_base", ctx.RopeFreqBase)
	viper.SetDefault("context.rope_freq_scale", ctx.RopeFreqScale)
	viper.SetDefault("context.mul_mat_q", ctx.MulMatQ)
	viper.SetDefault("context.f16_kv", ctx.F16KV)
	viper.SetDefault("context.compute_all_logits", ctx.ComputeAllLogits)
	viper.SetDefault("context.embedding_only", ctx.EmbeddingOnly)

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			logrus.Warnf("config: failed reading llamaworker.yaml: %v", err)
		}
	}

	cfg := &Config{
		ModelsPath: viper.GetString("models_path"),
		Verbose:    viper.GetBool("verbose"),
		Model: llama.ModelParams{
			GPULayers:     viper.GetInt("model.gpu_layers"),
			MainGPU:       viper.GetInt("model.main_gpu"),
			VocabOnly:     viper.GetBool("model.vocab_only"),
			UseMemoryMap:  viper.GetBool("model.use_mmap"),
			UseMemoryLock: viper.GetBool("model.use_mlock"),
		},
		Context: llama.ContextParams{
			ContextSize:      viper.GetInt("context.size"),
			BatchSize:        viper.GetInt("context.batch_size"),
			RopeFreqBase:     float32(viper.GetFloat64("context.rope_freq_base")),
			RopeFreqScale:    float32(viper.GetFloat64("context.rope_freq_scale")),
			MulMatQ:          viper.GetBool("context.mul_mat_q"),
			F16KV:            viper.GetBool("context.f16_kv"),
			ComputeAllLogits: viper.GetBool("context.compute_all_logits"),
			EmbeddingOnly:    viper.GetBool("context.embedding_only"),
		},
	}

	if err := os.MkdirAll(cfg.ModelsPath, 0755); err != nil {
		logrus.Warnf("config: could not create models dir %s, falling back to ./models: %v", cfg.ModelsPath, err)
		cfg.ModelsPath = "./models"
		os.MkdirAll(cfg.ModelsPath, 0755)
	}

	return cfg
}

func defaultModelsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".llamaworker", "models")
}
