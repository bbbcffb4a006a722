package lexicon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/conceptgraph-go/pkg/lexicon"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "dogs are mammals", lexicon.Normalize("  Dogs   are\tMAMMALS \n"))
	assert.Equal(t, lexicon.Normalize("ｄｏｇｓ"), lexicon.Normalize("dogs"))
}

func TestKeyStable(t *testing.T) {
	assert.Equal(t, lexicon.Key("Dogs are mammals"), lexicon.Key("dogs  are mammals"))
	assert.NotEqual(t, lexicon.Key("Dogs are mammals"), lexicon.Key("Cats are mammals"))
	assert.Len(t, lexicon.Key("x"), 64)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"dog", "mammal"}, lexicon.Terms("Dogs are mammals."))
	assert.Equal(t, []string{"dog"}, lexicon.Terms("What are dogs?"))
	assert.Equal(t, []string{"mammal", "animal"}, lexicon.Terms("Mammals are animals, mammals!"))
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"dogs":     "dog",
		"mammals":  "mammal",
		"berries":  "berry",
		"classes":  "class",
		"boxes":    "box",
		"churches": "church",
		"virus":    "virus",
		"analysis": "analysis",
		"glass":    "glass",
		"cat":      "cat",
		"gas":      "gas",
	}
	for in, want := range tests {
		assert.Equal(t, want, lexicon.Stem(in), in)
	}
}

func TestOverlapAndCoverage(t *testing.T) {
	a := lexicon.TermSet("dogs are mammals")
	b := lexicon.TermSet("mammals are animals")
	assert.InDelta(t, 1.0/3.0, lexicon.Overlap(a, b), 1e-9)
	assert.Equal(t, 0.0, lexicon.Overlap(a, map[string]struct{}{}))

	q := lexicon.TermSet("what are dogs")
	assert.Equal(t, 1.0, lexicon.Coverage(q, a))
	assert.Equal(t, 0.0, lexicon.Coverage(q, b))

	assert.True(t, lexicon.SameTerms(lexicon.TermSet("Mammal"), lexicon.TermSet("mammals")))
	assert.False(t, lexicon.SameTerms(a, b))
}
