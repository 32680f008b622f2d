// Package config builds the immutable Snapshot every other aegish
// component reads security settings from. Unlike the teacher's
// ConfigManager (a mutable, reloadable map), a Snapshot is constructed
// once at startup by Load and never mutated afterward: spec.md requires
// that "attempts to re-read settings from the process environment are a
// bug" for the lifetime of a session.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aegish-sh/aegish/internal/aegerr"
)

type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

type FailMode string

const (
	FailSafe FailMode = "safe"
	FailOpen FailMode = "open"
)

type VarCmdAction string

const (
	VarCmdWarn  VarCmdAction = "warn"
	VarCmdBlock VarCmdAction = "block"
)

// Default values, mirroring the teacher's config/defaults.go const-block
// convention.
const (
	DefaultFailMode            = FailSafe
	DefaultRole                = "default"
	DefaultVarCmdAction        = VarCmdBlock
	DefaultConfidenceThreshold = 0.6
	DefaultMaxCommandLength    = 4096
	DefaultAuditPath           = "/var/log/aegish/audit.log"
	DefaultConfigPath          = "/etc/aegish/config"
)

// Snapshot is the immutable record described by spec.md §3. Its fields are
// exported but read-only by convention (callers treat it as a value type);
// there is no setter and no Reload.
type Snapshot struct {
	Mode                Mode
	FailMode            FailMode
	Role                string
	PrimaryModel        string
	FallbackModels      []string
	AllowedProviders    map[string]bool
	VarCmdAction        VarCmdAction
	ConfidenceThreshold float64
	FilterSensitiveVars bool
	AuditPath           string
	RunnerBashSHA256    string
	SandboxerSHA256     string
	RunnerBashPath      string
	SandboxerPath       string
	MaxCommandLength    int
}

// fileSchema mirrors the production YAML config file's shape.
type fileSchema struct {
	Mode                string   `yaml:"mode"`
	FailMode            string   `yaml:"fail_mode"`
	Role                string   `yaml:"role"`
	PrimaryModel        string   `yaml:"primary_model"`
	FallbackModels      []string `yaml:"fallback_models"`
	AllowedProviders    []string `yaml:"allowed_providers"`
	VarCmdAction        string   `yaml:"var_cmd_action"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
	FilterSensitiveVars *bool    `yaml:"filter_sensitive_vars"`
	AuditPath           string   `yaml:"audit_path"`
	RunnerBashSHA256    string   `yaml:"runner_bash_sha256"`
	SandboxerSHA256     string   `yaml:"sandboxer_sha256"`
	RunnerBashPath      string   `yaml:"runner_bash_path"`
	SandboxerPath       string   `yaml:"sandboxer_path"`
	MaxCommandLength    int      `yaml:"max_command_length"`
}

// Load builds the immutable snapshot for this process. configPath is used
// only in production mode. In development mode each setting is taken from
// the OS environment first, then from the .env file at dotenvPath (".env"
// when dotenvPath is empty) via godotenv, then from the built-in default
// — the same source-layering direction as the teacher's ConfigManager,
// minus the in-place mutability.
func Load(mode Mode, configPath, dotenvPath string) (Snapshot, error) {
	switch mode {
	case ModeProduction:
		return loadProduction(configPath)
	case ModeDevelopment, "":
		return loadDevelopment(dotenvPath)
	default:
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.Load", fmt.Errorf("unknown mode %q", mode))
	}
}

func loadProduction(configPath string) (Snapshot, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	info, err := os.Stat(configPath)
	if err != nil {
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadProduction", fmt.Errorf("cannot stat %s: %w", configPath, err))
	}
	if info.Mode().Perm()&0o022 != 0 {
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadProduction",
			fmt.Errorf("%s must not be group/world writable (mode %o)", configPath, info.Mode().Perm()))
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadProduction", err)
	}
	var fs fileSchema
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadProduction", fmt.Errorf("parsing %s: %w", configPath, err))
	}
	return snapshotFromFile(ModeProduction, fs)
}

func loadDevelopment(dotenvPath string) (Snapshot, error) {
	env, _ := godotenv.Read(nonEmptyOr(dotenvPath, ".env"))
	get := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := env[key]; ok {
			return v
		}
		return def
	}

	fs := fileSchema{
		Mode:             "development",
		FailMode:         get("AEGISH_FAIL_MODE", string(DefaultFailMode)),
		Role:             get("AEGISH_ROLE", DefaultRole),
		PrimaryModel:     get("AEGISH_PRIMARY_MODEL", "bedrock/anthropic.claude-3-5-sonnet"),
		VarCmdAction:     get("AEGISH_VAR_CMD_ACTION", string(DefaultVarCmdAction)),
		AuditPath:        get("AEGISH_AUDIT_PATH", "./aegish-audit.log"),
		RunnerBashSHA256: get("AEGISH_BASH_SHA256", ""),
		SandboxerSHA256:  get("AEGISH_SANDBOXER_SHA256", ""),
		RunnerBashPath:   get("AEGISH_BASH_PATH", "/bin/bash"),
		SandboxerPath:    get("AEGISH_SANDBOXER_PATH", ""),
	}
	if v := get("AEGISH_FALLBACK_MODELS", ""); v != "" {
		fs.FallbackModels = strings.Split(v, ",")
	}
	if v := get("AEGISH_ALLOWED_PROVIDERS", ""); v != "" {
		fs.AllowedProviders = strings.Split(v, ",")
	}
	if v := get("AEGISH_CONFIDENCE_THRESHOLD", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadDevelopment", fmt.Errorf("AEGISH_CONFIDENCE_THRESHOLD: %w", err))
		}
		fs.ConfidenceThreshold = &f
	}
	if v := get("AEGISH_FILTER_SENSITIVE_VARS", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadDevelopment", fmt.Errorf("AEGISH_FILTER_SENSITIVE_VARS: %w", err))
		}
		fs.FilterSensitiveVars = &b
	}
	fs.MaxCommandLength = DefaultMaxCommandLength
	if v := get("AEGISH_MAX_COMMAND_LENGTH", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.loadDevelopment", fmt.Errorf("AEGISH_MAX_COMMAND_LENGTH: %w", err))
		}
		fs.MaxCommandLength = n
	}

	return snapshotFromFile(ModeDevelopment, fs)
}

func snapshotFromFile(mode Mode, fs fileSchema) (Snapshot, error) {
	s := Snapshot{
		Mode:             mode,
		Role:             nonEmptyOr(fs.Role, DefaultRole),
		PrimaryModel:     fs.PrimaryModel,
		FallbackModels:   fs.FallbackModels,
		AllowedProviders: toSet(fs.AllowedProviders),
		AuditPath:        nonEmptyOr(fs.AuditPath, DefaultAuditPath),
		RunnerBashSHA256: fs.RunnerBashSHA256,
		SandboxerSHA256:  fs.SandboxerSHA256,
		RunnerBashPath:   nonEmptyOr(fs.RunnerBashPath, "/bin/bash"),
		SandboxerPath:    fs.SandboxerPath,
		MaxCommandLength: fs.MaxCommandLength,
	}
	if s.MaxCommandLength <= 0 {
		s.MaxCommandLength = DefaultMaxCommandLength
	}

	switch FailMode(strings.ToLower(fs.FailMode)) {
	case FailSafe, "":
		s.FailMode = FailSafe
	case FailOpen:
		s.FailMode = FailOpen
	default:
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.snapshotFromFile", fmt.Errorf("invalid fail_mode %q", fs.FailMode))
	}

	switch VarCmdAction(strings.ToLower(fs.VarCmdAction)) {
	case VarCmdWarn:
		s.VarCmdAction = VarCmdWarn
	case VarCmdBlock, "":
		s.VarCmdAction = VarCmdBlock
	default:
		return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.snapshotFromFile", fmt.Errorf("invalid var_cmd_action %q", fs.VarCmdAction))
	}

	if fs.ConfidenceThreshold != nil {
		if *fs.ConfidenceThreshold < 0 || *fs.ConfidenceThreshold > 1 {
			return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.snapshotFromFile", fmt.Errorf("confidence_threshold out of [0,1]: %v", *fs.ConfidenceThreshold))
		}
		s.ConfidenceThreshold = *fs.ConfidenceThreshold
	} else {
		s.ConfidenceThreshold = DefaultConfidenceThreshold
	}

	if fs.FilterSensitiveVars != nil {
		s.FilterSensitiveVars = *fs.FilterSensitiveVars
	} else {
		s.FilterSensitiveVars = true
	}

	if mode == ModeProduction {
		if s.PrimaryModel == "" {
			return Snapshot{}, aegerr.New(aegerr.ConfigInvalid, "config.snapshotFromFile", fmt.Errorf("primary_model is required in production"))
		}
		if s.RunnerBashSHA256 == "" || s.SandboxerSHA256 == "" {
			return Snapshot{}, aegerr.New(aegerr.IntegrityViolation, "config.snapshotFromFile", fmt.Errorf("runner_bash_sha256 and sandboxer_sha256 are required in production"))
		}
		if s.SandboxerPath == "" {
			return Snapshot{}, aegerr.New(aegerr.IntegrityViolation, "config.snapshotFromFile", fmt.Errorf("sandboxer_path is required in production"))
		}
	}

	return s, nil
}

func toSet(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			m[v] = true
		}
	}
	return m
}

func nonEmptyOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
