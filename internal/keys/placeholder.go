package keys

import (
	"regexp"

	"github.com/debemdeboas/forum-attachments/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\[(img-[A-Za-z0-9_-]+)\]`)

// Placeholder is the anchor an editor inserts before an image has a URL.
func Placeholder(id model.ImageID) string {
	return "[" + string(id) + "]"
}

// Placeholders returns the distinct image ids anchored in content, in order.
func Placeholders(content string) []model.ImageID {
	seen := make(map[string]bool)
	var ids []model.ImageID
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, model.ImageID(m[1]))
		}
	}
	return ids
}
