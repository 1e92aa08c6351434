package matching

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/kalambet/techdigest/internal/news"
)

func article(id string, emb ...float32) news.Article {
	return news.Article{ID: id, RawArticle: news.RawArticle{Title: id}, Embedding: emb}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"scaled", []float32{2, 0}, []float32{5, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_Range(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	vecs := [][]float32{{1, 2, 3}, {-4, 0.5, 2}, {0.1, -0.1, 9}, {-1, -1, -1}}
	for range 500 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		vecs = append(vecs, v)
	}

	for i, a := range vecs {
		if s := Cosine(a, a); s != 1 {
			t.Errorf("Cosine(v, v) = %v for %v, want 1", s, a)
		}
		neg := make([]float32, len(a))
		for k := range a {
			neg[k] = -a[k]
		}
		if s := Cosine(a, neg); s != -1 {
			t.Errorf("Cosine(v, -v) = %v for %v, want -1", s, a)
		}
		for _, b := range vecs[i:] {
			if len(a) != len(b) {
				continue
			}
			if s := Cosine(a, b); s < -1 || s > 1 {
				t.Errorf("Cosine(%v, %v) = %v out of range", a, b, s)
			}
		}
	}
}

func TestMatch_ThemeScenario(t *testing.T) {
	themes := []news.Theme{{Name: "AWS", Embedding: []float32{1, 0, 0}}}
	candidates := []news.Article{
		article("aws tips", 0.99, 0.1, 0),
		article("cooking", 0, 1, 0),
	}

	got := Match(themes, candidates, 5)
	if len(got) != 1 {
		t.Fatalf("got %d articles, want 1", len(got))
	}
	if got[0].ID != "aws tips" || got[0].MatchedTheme != "AWS" {
		t.Errorf("got %+v", got[0])
	}
}

func TestMatch_DropsLowScores(t *testing.T) {
	themes := []news.Theme{{Name: "t", Embedding: []float32{1, 0}}}
	below := article("below", 1, 4) // cos ≈ 0.243
	above := article("above", 1, 3) // cos ≈ 0.316

	got := Match(themes, []news.Article{below, above}, 10)
	for _, a := range got {
		if a.Score <= Threshold {
			t.Errorf("article %s has score %v <= threshold", a.ID, a.Score)
		}
	}
	if len(got) != 1 || got[0].ID != "above" {
		t.Errorf("got %+v, want only 'above'", got)
	}
}

func TestMatch_FirstThemeWinsTie(t *testing.T) {
	themes := []news.Theme{
		{Name: "first", Embedding: []float32{1, 0}},
		{Name: "second", Embedding: []float32{1, 0}},
	}
	got := Match(themes, []news.Article{article("a", 1, 0)}, 1)
	if len(got) != 1 || got[0].MatchedTheme != "first" {
		t.Errorf("got %+v, want matched theme 'first'", got)
	}
}

func TestMatch_SortsAndTruncates(t *testing.T) {
	themes := []news.Theme{{Name: "t", Embedding: []float32{1, 0}}}
	candidates := []news.Article{
		article("mid", 0.8, 0.6),
		article("top", 1, 0),
		article("low", 0.5, 0.866),
	}

	got := Match(themes, candidates, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "top" || got[1].ID != "mid" {
		t.Errorf("order = %s, %s; want top, mid", got[0].ID, got[1].ID)
	}

	all := Match(themes, candidates, 100)
	if len(all) != len(candidates) {
		t.Errorf("len = %d, want at most %d", len(all), len(candidates))
	}
}

func TestMatch_Deterministic(t *testing.T) {
	themes := []news.Theme{
		{Name: "a", Embedding: []float32{1, 0, 0}},
		{Name: "b", Embedding: []float32{0, 1, 0}},
	}
	candidates := []news.Article{
		article("1", 1, 1, 0),
		article("2", 0.9, 0.1, 0),
		article("3", 0.1, 0.9, 0.2),
		article("4", 1, 1, 0),
	}
	first := Match(themes, candidates, 3)
	second := Match(themes, candidates, 3)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Match not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestMatch_CopiesEmbeddings(t *testing.T) {
	themes := []news.Theme{{Name: "t", Embedding: []float32{1, 0}}}
	candidates := []news.Article{article("a", 1, 0)}

	got := Match(themes, candidates, 1)
	got[0].Embedding[0] = 42
	if candidates[0].Embedding[0] != 1 {
		t.Error("Match result shares embedding storage with its input")
	}
}

func TestMatch_Empty(t *testing.T) {
	themes := []news.Theme{{Name: "t", Embedding: []float32{1}}}
	if got := Match(themes, nil, 5); len(got) != 0 {
		t.Errorf("got %v for no candidates", got)
	}
	if got := Match(nil, []news.Article{article("a", 1)}, 5); len(got) != 0 {
		t.Errorf("got %v for no themes", got)
	}
	if got := Match(themes, []news.Article{article("a", 1)}, 0); len(got) != 0 {
		t.Errorf("got %v for zero limit", got)
	}
}
