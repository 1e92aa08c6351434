package delivery

import (
	"fmt"
	"strings"

	"github.com/kalambet/techdigest/internal/news"
)

// FormatDigest renders matched articles as a single message grouped by
// theme. Themes appear in the order they are first seen. Sources are shown
// by their name in labels, falling back to the built-in label.
func FormatDigest(articles []news.ScoredArticle, labels map[news.Source]string) string {
	if len(articles) == 0 {
		return "No recommended articles today."
	}

	var order []string
	groups := make(map[string][]news.ScoredArticle)
	for _, a := range articles {
		if _, ok := groups[a.MatchedTheme]; !ok {
			order = append(order, a.MatchedTheme)
		}
		groups[a.MatchedTheme] = append(groups[a.MatchedTheme], a)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📰 **Today's picks (%d)**\n\n", len(articles))
	for _, theme := range order {
		fmt.Fprintf(&b, "🏷️ **%s**\n", theme)
		for _, a := range groups[theme] {
			fmt.Fprintf(&b, "• %s - %s\n", a.Title, sourceLabel(a.Source, labels))
			fmt.Fprintf(&b, "  %s\n", a.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceLabel(s news.Source, labels map[news.Source]string) string {
	if name := labels[s]; name != "" {
		return name
	}
	return s.Label()
}
