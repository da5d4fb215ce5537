// Package pathrules manages YAML-based file classification rules used when
// scoring pull request complexity.
package pathrules

import (
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is a kind of file a pull request can touch.
type Category string

const (
	Critical   Category = "critical"
	Dependency Category = "dependency"
	Test       Category = "test"
)

// Config is the top-level YAML structure.
type Config struct {
	Critical   []string `yaml:"critical"`
	Dependency []string `yaml:"dependency"`
	Test       []string `yaml:"test"`
}

// Rules holds loaded patterns, keyed by category.
type Rules struct {
	patterns map[Category][]string
}

// DefaultConfig returns the built-in patterns.
func DefaultConfig() Config {
	return Config{
		Critical: []string{
			".github/workflows/",
			"Dockerfile",
			"docker-compose.yml",
			"Makefile",
			"*.sql",
			"migrations/",
			"auth/",
			"security/",
			".env*",
		},
		Dependency: []string{
			"go.mod",
			"go.sum",
			"package.json",
			"package-lock.json",
			"pnpm-lock.yaml",
			"yarn.lock",
			"requirements.txt",
			"pyproject.toml",
			"poetry.lock",
			"Cargo.toml",
			"Cargo.lock",
			"Gemfile",
			"Gemfile.lock",
		},
		Test: []string{
			"*_test.go",
			"*.test.*",
			"*.spec.*",
			"test_*.py",
			"*_test.py",
			"tests/",
			"__tests__/",
		},
	}
}

// Default returns Rules built from DefaultConfig.
func Default() *Rules {
	return New(DefaultConfig())
}

// New builds Rules from cfg. Empty categories fall back to the defaults.
func New(cfg Config) *Rules {
	def := DefaultConfig()
	pick := func(custom, fallback []string) []string {
		if len(custom) == 0 {
			return fallback
		}
		return custom
	}
	return &Rules{
		patterns: map[Category][]string{
			Critical:   pick(cfg.Critical, def.Critical),
			Dependency: pick(cfg.Dependency, def.Dependency),
			Test:       pick(cfg.Test, def.Test),
		},
	}
}

// Load reads the YAML file at path and returns Rules.
// If the file does not exist, Load returns the default Rules (not an error).
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Patterns returns the patterns for a category.
func (r *Rules) Patterns(c Category) []string {
	out := make([]string, len(r.patterns[c]))
	copy(out, r.patterns[c])
	return out
}

// Matches reports whether file belongs to category c.
func (r *Rules) Matches(c Category, file string) bool {
	if r == nil {
		return false
	}
	file = strings.TrimPrefix(path.Clean(strings.ReplaceAll(file, "\\", "/")), "./")
	for _, p := range r.patterns[c] {
		if matchPattern(p, file) {
			return true
		}
	}
	return false
}

// matchPattern supports three forms: "dir/" matches any path containing that
// directory, glob patterns match the base name or the full path, and plain
// names match the base name or the full path exactly.
func matchPattern(pattern, file string) bool {
	if strings.HasSuffix(pattern, "/") {
		dir := strings.TrimPrefix(pattern, "/")
		return strings.HasPrefix(file, dir) || strings.Contains(file, "/"+dir)
	}

	base := path.Base(file)
	if strings.ContainsAny(pattern, "*?[") {
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		ok, _ := path.Match(pattern, file)
		return ok
	}
	return base == pattern || file == pattern
}
