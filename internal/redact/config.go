package redact

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig holds operator-defined redaction additions.
type FileConfig struct {
	ExtraSensitiveKeys []string          `yaml:"extra_sensitive_keys"`
	ExtraPatterns      []ExtraPatternDef `yaml:"extra_patterns"`
}

// ExtraPatternDef defines a custom token shape from config.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// LoadConfig loads redaction additions from path. An empty path or a missing
// file yields a nil config and no error.
func LoadConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read redact config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse redact config: %w", err)
	}
	return &cfg, nil
}

// CompilePatterns validates extra patterns and appends them to the defaults.
func CompilePatterns(cfg *FileConfig) ([]Pattern, error) {
	patterns := DefaultPatterns()
	if cfg == nil {
		return patterns, nil
	}

	for i, def := range cfg.ExtraPatterns {
		if def.Name == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		patterns = append(patterns, Pattern{
			Name:  strings.ToLower(def.Name),
			Regex: re,
		})
	}
	return patterns, nil
}

// Build assembles a Sanitizer from the configured limits and an optional
// extras file.
func Build(maxLen int, keyPattern, extraPath string) (*Sanitizer, error) {
	cfg, err := LoadConfig(extraPath)
	if err != nil {
		return nil, err
	}

	var extraKeys []string
	if cfg != nil {
		extraKeys = cfg.ExtraSensitiveKeys
	}
	keys, err := CompileKeyPattern(keyPattern, extraKeys)
	if err != nil {
		return nil, err
	}
	patterns, err := CompilePatterns(cfg)
	if err != nil {
		return nil, err
	}

	return New(Options{
		MaxStringLength: maxLen,
		SensitiveKeys:   keys,
		Patterns:        patterns,
	}), nil
}
