package matcher

import (
	"net/url"
	"path"
	"strings"
)

// imageLabel derives a matchable text label from a product image URL.
// Listing photos are commonly named after the product
// ("basmati-rice-1kg.jpg"), which makes the filename a useful matching
// channel when the product title is noisy.
func imageLabel(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	filename := path.Base(parsed.Path)
	if filename == "." || filename == "/" {
		return ""
	}
	filename = strings.TrimSuffix(filename, path.Ext(filename))

	replacer := strings.NewReplacer("-", " ", "_", " ", ".", " ")
	label := replacer.Replace(filename)
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}
