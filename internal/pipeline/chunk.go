package pipeline

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

// ChunkConfig mirrors the page settings of a split skill.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  2000,
		MinChars:  400,
		Overlap:   500,
		MaxChunks: 200,
	}
}

// ChunkConfigFor reads the page length and overlap of the skillset's split
// skill. Without a split skill every document is a single page.
func ChunkConfigFor(skillset *domain.SkillsetDefinition) ChunkConfig {
	cfg := DefaultChunkConfig()
	if skillset == nil {
		return cfg
	}
	split := skillset.Skill(domain.SkillTypeSplit)
	if split == nil {
		cfg.MaxChars = 0
		return cfg
	}
	if split.MaximumPageLength > 0 {
		cfg.MaxChars = split.MaximumPageLength
	}
	cfg.Overlap = split.PageOverlapLength
	if cfg.MinChars > cfg.MaxChars/2 {
		cfg.MinChars = cfg.MaxChars / 2
	}
	return cfg
}

// chunkText splits text into pages of at most MaxChars runes, preferring to
// cut on whitespace, with Overlap runes repeated between pages. MaxChars <= 0
// keeps the whole text as one page.
func chunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	if cfg.MaxChars <= 0 || len(runes) <= cfg.MaxChars {
		return []string{clean}
	}

	chunks := make([]string, 0, 8)
	start := 0
	for start < len(runes) {
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}

		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			cut := end
			minCut := start + cfg.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}

		if end <= start {
			break
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		nextStart := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			nextStart = end - cfg.Overlap
		}
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return chunks
}
