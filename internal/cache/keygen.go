package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pantryio/pantrymatch/pkg/types"
)

const (
	entryPrefix    = "rec:"
	simIndexPrefix = "simidx:"
)

// Key derives the deterministic exact-lookup key for a query. Two
// queries that normalize to the same text with the same store and
// signals share a key.
func Key(q *types.Query) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		q.Normalized,
		q.StoreID,
		q.Signals.Cuisine,
		q.Signals.MealType,
		q.Signals.Dietary,
	}, "|")))
	return entryPrefix + hex.EncodeToString(h.Sum(nil))
}

// SimIndexKey returns the backend key holding the similarity index
// snapshot for a store.
func SimIndexKey(storeID string) string {
	return simIndexPrefix + storeID
}
