package rag

import "strings"

// contextSeparator joins document contents in the assembled grounding
// context. A blank line keeps chunk boundaries visible to the model without
// introducing markup it might echo back.
const contextSeparator = "\n\n"

// AssembleContext concatenates document contents in input order into a
// single grounding string. Input order is relevance rank as returned by the
// retriever; ties keep their retrieval order. The function is pure and
// deterministic, performs no truncation or deduplication, and returns an
// empty string for an empty input.
func AssembleContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, contextSeparator)
}
