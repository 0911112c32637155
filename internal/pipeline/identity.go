package pipeline

import "fmt"

// DedupKey derives the publication identity hash. The raw text is part of
// the key because some portals reuse external refs after edits.
func DedupKey(h Hasher, sourceID, externalRef, rawText string) (string, error) {
	payload := fmt.Sprintf("%s\x00%s\x00%s", sourceID, externalRef, rawText)
	key, err := h.Hash([]byte(payload))
	if err != nil {
		return "", fmt.Errorf("hash dedup key: %w", err)
	}
	return key, nil
}
