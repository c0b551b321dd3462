// Package config loads the editor's JSON configuration file.
//
// A user file is a partial overlay: it is merged field by field onto
// the built-in defaults, so configuring one server does not wipe the
// stock entries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/vellum/internal/lsp"
)

// Config is the root of the configuration file.
type Config struct {
	Languages map[string]LanguageConfig   `json:"languages"`
	LSP       map[string]lsp.ServerConfig `json:"lsp"`
	Log       LogConfig                   `json:"log"`
	Plugins   PluginConfig                `json:"plugins"`
}

// LanguageConfig maps files to a language.
type LanguageConfig struct {
	Extensions []string `json:"extensions"`
	Filenames  []string `json:"filenames,omitempty"`
}

// LogConfig controls the editor log file.
type LogConfig struct {
	Path  string `json:"path,omitempty"`
	Level string `json:"level"`
}

// PluginConfig controls the Lua hook scripts.
type PluginConfig struct {
	Dir string `json:"dir,omitempty"`
}

// DefaultPath returns the user configuration file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vellum", "config.json")
	}
	return "config.json"
}

// Default returns the built-in configuration: stock language servers
// for common languages, none of them auto-started.
func Default() *Config {
	return &Config{
		Languages: map[string]LanguageConfig{
			"rust":       {Extensions: []string{"rs"}},
			"python":     {Extensions: []string{"py"}},
			"javascript": {Extensions: []string{"js", "jsx"}},
			"typescript": {Extensions: []string{"ts", "tsx"}},
			"go":         {Extensions: []string{"go"}, Filenames: []string{"go.mod", "go.sum"}},
			"html":       {Extensions: []string{"html", "htm"}},
			"css":        {Extensions: []string{"css"}},
			"c":          {Extensions: []string{"c", "h"}},
			"make":       {Filenames: []string{"Makefile", "makefile"}},
		},
		LSP: map[string]lsp.ServerConfig{
			"rust": {
				Enabled: true,
				Command: "rust-analyzer",
				Limits:  lsp.DefaultProcessLimits(),
			},
			"python": {
				Enabled: true,
				Command: "pylsp",
				Limits:  lsp.DefaultProcessLimits(),
			},
			"javascript": {
				Enabled: true,
				Command: "typescript-language-server",
				Args:    []string{"--stdio"},
				Limits:  lsp.DefaultProcessLimits(),
			},
			"typescript": {
				Enabled: true,
				Command: "typescript-language-server",
				Args:    []string{"--stdio"},
				Limits:  lsp.DefaultProcessLimits(),
			},
			"go": {
				Enabled: true,
				Command: "gopls",
				Args:    []string{"serve"},
				Limits:  lsp.DefaultProcessLimits(),
			},
			"html": {
				Enabled: true,
				Command: "vscode-html-language-server",
				Args:    []string{"--stdio"},
				Limits:  lsp.DefaultProcessLimits(),
			},
			"css": {
				Enabled: true,
				Command: "vscode-css-language-server",
				Args:    []string{"--stdio"},
				Limits:  lsp.DefaultProcessLimits(),
			},
			"c": {
				Enabled: true,
				Command: "clangd",
				Limits:  lsp.DefaultProcessLimits(),
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the configuration file at path and overlays it onto the
// defaults. A missing file yields the defaults unchanged.
func Load(path string) (*Config, error) {
	base, err := json.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("config %s: invalid JSON", path)
	}

	merged := overlay(string(base), gjson.ParseBytes(data), "")

	var cfg Config
	if err := json.Unmarshal([]byte(merged), &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// overlay recursively merges user values into base. Objects merge key
// by key; arrays and scalars replace wholesale.
func overlay(base string, user gjson.Result, prefix string) string {
	user.ForEach(func(key, value gjson.Result) bool {
		path := escapePath(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		if value.IsObject() && gjson.Get(base, path).IsObject() {
			base = overlay(base, value, path)
			return true
		}
		if updated, err := sjson.SetRaw(base, path, value.Raw); err == nil {
			base = updated
		}
		return true
	})
	return base
}

// escapePath guards map keys containing sjson path syntax.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

// LanguageMatchers converts the languages section into the matcher
// mapping consumed by lsp.DetectLanguage.
func (c *Config) LanguageMatchers() map[string]lsp.LanguageMatcher {
	matchers := make(map[string]lsp.LanguageMatcher, len(c.Languages))
	for lang, lc := range c.Languages {
		matchers[lang] = lsp.LanguageMatcher{
			Extensions: lc.Extensions,
			Filenames:  lc.Filenames,
		}
	}
	return matchers
}
