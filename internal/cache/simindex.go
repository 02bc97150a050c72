package cache

import (
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// SimIndex maps normalized query text to existing cache keys so that
// near-duplicate queries can reuse an entry without an exact key match.
// Similarity is token-set Jaccard over the normalized text.
type SimIndex struct {
	mu     sync.RWMutex
	stores map[string]map[string]indexEntry // storeID -> key -> entry
}

type indexEntry struct {
	Text   string `json:"text"`
	tokens map[string]struct{}
}

// NewSimIndex creates an empty similarity index.
func NewSimIndex() *SimIndex {
	return &SimIndex{
		stores: make(map[string]map[string]indexEntry),
	}
}

// Add records a cache key under its normalized text. Existing entries
// for the same key are replaced.
func (idx *SimIndex) Add(storeID, key, normalized string) {
	entry := indexEntry{
		Text:   normalized,
		tokens: tokenize(normalized),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	store, ok := idx.stores[storeID]
	if !ok {
		store = make(map[string]indexEntry)
		idx.stores[storeID] = store
	}
	store[key] = entry
}

// Remove drops a key from the index.
func (idx *SimIndex) Remove(storeID, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if store, ok := idx.stores[storeID]; ok {
		delete(store, key)
	}
}

// Lookup returns the key of the closest indexed query whose Jaccard
// similarity to normalized meets threshold, and whether one was found.
func (idx *SimIndex) Lookup(storeID, normalized string, threshold float64) (string, bool) {
	tokens := tokenize(normalized)
	if len(tokens) == 0 {
		return "", false
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		bestKey   string
		bestScore float64
	)
	for key, entry := range idx.stores[storeID] {
		score := jaccard(tokens, entry.tokens)
		if score > bestScore {
			bestKey = key
			bestScore = score
		}
	}

	if bestScore >= threshold {
		return bestKey, true
	}
	return "", false
}

// Snapshot serializes a store's index for backend persistence.
func (idx *SimIndex) Snapshot(storeID string) ([]byte, error) {
	idx.mu.RLock()
	texts := make(map[string]string, len(idx.stores[storeID]))
	for key, entry := range idx.stores[storeID] {
		texts[key] = entry.Text
	}
	idx.mu.RUnlock()

	return json.Marshal(texts)
}

// Restore loads a store's index from a serialized snapshot, replacing
// any in-memory entries for that store.
func (idx *SimIndex) Restore(storeID string, data []byte) error {
	var texts map[string]string
	if err := json.Unmarshal(data, &texts); err != nil {
		return err
	}

	store := make(map[string]indexEntry, len(texts))
	for key, text := range texts {
		store[key] = indexEntry{Text: text, tokens: tokenize(text)}
	}

	idx.mu.Lock()
	idx.stores[storeID] = store
	idx.mu.Unlock()
	return nil
}

func tokenize(text string) map[string]struct{} {
	fields := strings.Fields(text)
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
