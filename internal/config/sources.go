package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/techdigest/internal/news"
)

// Source is one feed the aggregator polls. Name is its label in digests;
// when empty the built-in label for the id is used.
type Source struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultSources is the built-in feed list.
var DefaultSources = []Source{
	{ID: "qiita", Name: "Qiita", URL: "https://qiita.com/popular-items/feed"},
	{ID: "zenn", Name: "Zenn", URL: "https://zenn.dev/feed"},
	{ID: "hatena", Name: "Hatena Bookmark", URL: "https://b.hatena.ne.jp/hotentry/it.rss"},
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources returns DefaultSources when path is empty, otherwise the
// sources listed in the YAML file at path.
func LoadSources(path string) ([]Source, error) {
	if path == "" {
		return append([]Source(nil), DefaultSources...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}

	seen := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		s.ID = strings.TrimSpace(s.ID)
		s.URL = strings.TrimSpace(s.URL)
		if s.ID == "" || s.URL == "" {
			return nil, fmt.Errorf("source #%d: id and url are required", i+1)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("source %q listed twice", s.ID)
		}
		seen[s.ID] = true
		s.Name = strings.TrimSpace(s.Name)
		f.Sources[i] = s
	}
	return f.Sources, nil
}

// SourceLabels maps each source id to its display name.
func SourceLabels(sources []Source) map[news.Source]string {
	labels := make(map[news.Source]string, len(sources))
	for _, s := range sources {
		if s.Name != "" {
			labels[news.Source(s.ID)] = s.Name
		}
	}
	return labels
}
