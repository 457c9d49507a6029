// Package config loads the process-wide tunables and upstream
// credentials described in spec.md §6.4. Secrets come from the
// environment (optionally backed by a local .env file, the teacher's
// own pattern in cmd/agent/main.go); non-secret tunables load from an
// optional YAML file, with environment variables applied on top as the
// final override.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

// Credentials holds the API keys for the three upstream capabilities
// plus every concrete provider this repo wires them to. An empty key
// disables only that specific provider — it is never fatal to load a
// Config with some credentials missing (§7 "missing credential").
type Credentials struct {
	GroqAPIKey       string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	DeepgramAPIKey   string
	AssemblyAIAPIKey string
	LokutorAPIKey    string
}

// Tunables is the non-secret configuration surface: provider selection,
// the listen port and the default language. Windowing and debounce
// values are not read from YAML or the environment; they come from
// orchestrator.DefaultConfig and the VAT/TBIC constants.
type Tunables struct {
	Port              int    `yaml:"port"`
	STTProvider       string `yaml:"sttProvider"`
	STTStreamProvider string `yaml:"sttStreamProvider"`
	LLMProvider       string `yaml:"llmProvider"`
	Language          string `yaml:"language"`
}

// Config is the fully resolved process configuration: credentials plus
// tunables plus the orchestrator's fixed audio/windowing profile.
type Config struct {
	Credentials Credentials
	Tunables    Tunables
	Orchestrator orchestrator.Config
}

// defaultTunables mirrors the teacher's own fallbacks in
// cmd/agent/main.go (groq for both STT and LLM, en-US as this spec's
// default language rather than the teacher's es default).
func defaultTunables() Tunables {
	return Tunables{
		Port:              3000,
		STTProvider:       "groq",
		STTStreamProvider: "batch",
		LLMProvider:       "groq",
		Language:          string(orchestrator.LanguageEnUS),
	}
}

// Load reads an optional .env file for secrets, an optional
// config.yaml for tunables, then applies environment-variable
// overrides for PORT/STT_PROVIDER/STT_STREAM_PROVIDER/LLM_PROVIDER/
// AGENT_LANGUAGE, mirroring the teacher's os.Getenv provider-selection
// switch in main.go. Missing files of either kind are not errors —
// only a malformed config.yaml that does exist is.
func Load(yamlPath string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is the common case in production, where secrets
		// come from the real environment; only log-worthy, not fatal.
		_ = err
	}

	tunables := defaultTunables()
	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &tunables); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &tunables.Port); err != nil {
			return Config{}, fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
	}
	if v := os.Getenv("STT_PROVIDER"); v != "" {
		tunables.STTProvider = v
	}
	if v := os.Getenv("STT_STREAM_PROVIDER"); v != "" {
		tunables.STTStreamProvider = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		tunables.LLMProvider = v
	}
	if v := os.Getenv("AGENT_LANGUAGE"); v != "" {
		tunables.Language = v
	}

	creds := Credentials{
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIAPIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
		LokutorAPIKey:    os.Getenv("LOKUTOR_API_KEY"),
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Language = orchestrator.Language(tunables.Language)

	return Config{Credentials: creds, Tunables: tunables, Orchestrator: orchCfg}, nil
}
