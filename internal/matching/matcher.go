// Package matching scores articles against a user's themes.
package matching

import (
	"math"
	"sort"
	"slices"

	"github.com/kalambet/techdigest/internal/news"
)

// Threshold is the similarity an article must strictly exceed to be kept.
const Threshold = 0.3

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1]. It is
// 0 when the vectors differ in length or either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	// A single square root keeps Cosine(v, v) at exactly 1.
	s := dot / math.Sqrt(normA*normB)
	return max(-1, min(1, s))
}

// Match returns at most limit candidates whose best theme similarity exceeds
// Threshold, highest score first. When two themes score equally the one
// listed first wins.
func Match(themes []news.Theme, candidates []news.Article, limit int) []news.ScoredArticle {
	if limit <= 0 || len(themes) == 0 {
		return nil
	}

	var scored []news.ScoredArticle
	for _, a := range candidates {
		best := 0.0
		matched := ""
		for _, t := range themes {
			if s := Cosine(a.Embedding, t.Embedding); s > best {
				best = s
				matched = t.Name
			}
		}
		if best <= Threshold {
			continue
		}
		a.Embedding = slices.Clone(a.Embedding)
		scored = append(scored, news.ScoredArticle{Article: a, Score: best, MatchedTheme: matched})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
