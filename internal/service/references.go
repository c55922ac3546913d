package service

import (
	"regexp"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

// citationPattern matches [name] not already followed by a markdown link target.
var citationPattern = regexp.MustCompile(`\[([^\[\]]+)\](\()?`)

// LinkReferences turns citations such as [warranty.md] into markdown links to
// the cited source. Citations that match no reference are left unchanged.
func LinkReferences(answer string, refs []domain.Reference) string {
	if len(refs) == 0 {
		return answer
	}
	paths := make(map[string]string, len(refs))
	for _, r := range refs {
		if r.Title != "" && r.Path != "" {
			paths[r.Title] = r.Path
		}
	}

	return citationPattern.ReplaceAllStringFunc(answer, func(m string) string {
		sub := citationPattern.FindStringSubmatch(m)
		if sub[2] != "" {
			return m
		}
		path, ok := paths[sub[1]]
		if !ok {
			return m
		}
		return "[" + sub[1] + "](" + path + ")"
	})
}
