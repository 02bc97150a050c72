package generator

import (
	"strings"

	"github.com/pantryio/pantrymatch/pkg/types"
)

// reconciler maps model-produced category names back onto the store's
// canonical category set. Model output rarely matches catalog naming
// exactly ("Rice and Grains" vs "Rice & Grains"), so lookup goes
// through a ladder of name variations.
type reconciler struct {
	byVariant map[string]types.Category
}

func newReconciler(categories []types.Category) *reconciler {
	r := &reconciler{byVariant: make(map[string]types.Category, len(categories)*4)}
	for _, cat := range categories {
		for _, v := range nameVariants(cat.Name) {
			if _, exists := r.byVariant[v]; !exists {
				r.byVariant[v] = cat
			}
		}
	}
	return r
}

// resolve returns the canonical category for a model-produced name.
func (r *reconciler) resolve(name string) (types.Category, bool) {
	for _, v := range nameVariants(name) {
		if cat, ok := r.byVariant[v]; ok {
			return cat, true
		}
	}
	return types.Category{}, false
}

func nameVariants(name string) []string {
	base := strings.ToLower(strings.TrimSpace(name))
	variants := []string{
		base,
		strings.ReplaceAll(base, " ", ""),
		strings.ReplaceAll(base, "&", "and"),
		strings.ReplaceAll(base, "and", "&"),
	}
	if trimmed := strings.TrimSuffix(base, "s"); trimmed != base {
		variants = append(variants, trimmed)
	}
	return variants
}
