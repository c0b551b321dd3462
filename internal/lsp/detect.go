package lsp

import (
	"path/filepath"
	"sort"
	"strings"
)

// LanguageMatcher describes which files belong to a language.
type LanguageMatcher struct {
	// Extensions are matched against the file extension, without the dot.
	Extensions []string

	// Filenames are matched against the exact base name, for files like
	// Makefile or Dockerfile that carry no extension.
	Filenames []string
}

// DetectLanguage returns the configured language for a file path. An
// extension match takes priority over an exact filename match. Languages
// are scanned in sorted order so the result is deterministic.
func DetectLanguage(path string, languages map[string]LanguageMatcher) (string, bool) {
	name := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")

	langs := make([]string, 0, len(languages))
	for lang := range languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	if ext != "" {
		for _, lang := range langs {
			for _, e := range languages[lang].Extensions {
				if e == ext {
					return lang, true
				}
			}
		}
	}

	for _, lang := range langs {
		for _, f := range languages[lang].Filenames {
			if f == name {
				return lang, true
			}
		}
	}

	return "", false
}
