package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// stopWords are dropped before clustering or similarity scoring; they
// carry no discriminating signal between two objectives.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "is": true, "with": true,
	"that": true, "this": true, "it": true, "at": true, "by": true, "as": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// stem applies a small suffix-stripping heuristic, enough to collapse
// "failing"/"failed"/"fails" onto "fail" without pulling in a real
// stemming library for a clustering signal that only needs to be
// approximate (spec.md §4.8: "no external vector store required").
func stem(word string) string {
	word = strings.ToLower(word)
	switch {
	case strings.HasSuffix(word, "ing") && len(word) > 5:
		return word[:len(word)-3]
	case strings.HasSuffix(word, "ed") && len(word) > 4:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && len(word) > 3:
		return word[:len(word)-1]
	default:
		return word
	}
}

// keyPhrases extracts the stemmed, de-duplicated, stopword-free token set
// from text, the unit both ClusterID and jaccardSimilarity operate on.
func keyPhrases(text string) []string {
	words := wordPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(words))
	var phrases []string
	for _, w := range words {
		s := stem(w)
		if s == "" || stopWords[s] || seen[s] {
			continue
		}
		seen[s] = true
		phrases = append(phrases, s)
	}
	sort.Strings(phrases)
	return phrases
}

// ClusterID hashes an objective's key phrases into a stable, short cluster
// identifier. Two objectives with the same key-phrase set land in the same
// cluster; this is the entirety of Hephaestus's clustering (spec.md §4.8:
// "Clusters are computed lazily by hashing stemmed key phrases").
func ClusterID(objectiveText string) string {
	phrases := keyPhrases(objectiveText)
	sum := sha256.Sum256([]byte(strings.Join(phrases, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

// jaccardSimilarity measures the overlap between two already-stemmed,
// already-sorted key-phrase sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}

	intersection := 0
	for _, w := range a {
		if setB[w] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
