package fanout

import "strings"

// Signature is the set of lowercased terms that characterizes a
// candidate. Similarity between candidates is the Jaccard index of
// their signatures.
type Signature map[string]struct{}

// NewSignature builds a signature from free-text parts.
func NewSignature(parts ...string) Signature {
	sig := Signature{}
	for _, part := range parts {
		for _, term := range strings.Fields(strings.ToLower(part)) {
			sig[term] = struct{}{}
		}
	}
	return sig
}

// Jaccard returns the Jaccard similarity of two signatures: the size of
// their intersection over the size of their union. Empty signatures
// have zero similarity to everything.
func Jaccard(a, b Signature) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for term := range a {
		if _, ok := b[term]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Deduplicator drops candidates too similar to one already kept.
// Earlier candidates win.
type Deduplicator struct {
	// Threshold is the similarity at or above which a candidate is
	// considered a duplicate.
	Threshold float64
}

// Deduplicate returns the candidates whose signatures fall below the
// threshold against every previously kept candidate, preserving order.
func (d *Deduplicator) Deduplicate(candidates []*Candidate) []*Candidate {
	if len(candidates) <= 1 {
		return candidates
	}
	var unique []*Candidate
	var kept []Signature
	for _, candidate := range candidates {
		sig := candidate.signature
		duplicate := false
		for _, seen := range kept {
			if Jaccard(sig, seen) >= d.Threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			unique = append(unique, candidate)
			kept = append(kept, sig)
		}
	}
	return unique
}

// ThresholdForDiversity maps a diversity setting to a similarity
// threshold: the more diversity requested, the more aggressively near
// duplicates are dropped.
func ThresholdForDiversity(diversity string) float64 {
	switch diversity {
	case "low":
		return 0.9
	case "high":
		return 0.5
	default:
		return 0.7
	}
}
