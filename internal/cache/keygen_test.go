package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pantryio/pantrymatch/pkg/types"
)

func TestKeyDeterministic(t *testing.T) {
	q := &types.Query{
		Normalized: "chicken biryani",
		StoreID:    "store-1",
		Signals:    types.Signals{Cuisine: "south asian", MealType: "dinner"},
	}

	assert.Equal(t, Key(q), Key(q))
}

func TestKeyVariesWithInputs(t *testing.T) {
	base := &types.Query{Normalized: "chicken biryani", StoreID: "store-1"}

	differentText := &types.Query{Normalized: "mutton biryani", StoreID: "store-1"}
	differentStore := &types.Query{Normalized: "chicken biryani", StoreID: "store-2"}
	differentSignal := &types.Query{
		Normalized: "chicken biryani",
		StoreID:    "store-1",
		Signals:    types.Signals{Dietary: "halal"},
	}

	assert.NotEqual(t, Key(base), Key(differentText))
	assert.NotEqual(t, Key(base), Key(differentStore))
	assert.NotEqual(t, Key(base), Key(differentSignal))
}

func TestKeyIgnoresRawAndUser(t *testing.T) {
	a := &types.Query{Raw: "Chicken Biryani!", Normalized: "chicken biryani", UserID: "alice", StoreID: "s"}
	b := &types.Query{Raw: "chicken   biryani", Normalized: "chicken biryani", UserID: "bob", StoreID: "s"}

	assert.Equal(t, Key(a), Key(b))
}

func TestSimIndexKey(t *testing.T) {
	assert.Equal(t, "simidx:store-1", SimIndexKey("store-1"))
}
