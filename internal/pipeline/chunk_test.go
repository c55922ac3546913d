package pipeline

import (
	"strings"
	"testing"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_ShortTextIsOnePage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, chunkText("  hello world  ", DefaultChunkConfig()))
	assert.Nil(t, chunkText("   ", DefaultChunkConfig()))
}

func TestChunkText_SplitsOnWhitespaceWithOverlap(t *testing.T) {
	text := strings.Repeat("word ", 100)
	cfg := ChunkConfig{MaxChars: 50, MinChars: 10, Overlap: 10}

	chunks := chunkText(text, cfg)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 50)
	}
}

func TestChunkText_ZeroMaxKeepsWholeText(t *testing.T) {
	text := strings.Repeat("a ", 5000)
	assert.Len(t, chunkText(text, ChunkConfig{}), 1)
}

func TestChunkText_RespectsMaxChunks(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := chunkText(text, ChunkConfig{MaxChars: 20, MinChars: 5, MaxChunks: 3})
	assert.Len(t, chunks, 3)
}

func TestChunkConfigFor(t *testing.T) {
	ss := &domain.SkillsetDefinition{Skills: []domain.Skill{
		{ODataType: domain.SkillTypeSplit, MaximumPageLength: 600, PageOverlapLength: 100},
	}}
	cfg := ChunkConfigFor(ss)
	assert.Equal(t, 600, cfg.MaxChars)
	assert.Equal(t, 100, cfg.Overlap)
	assert.Equal(t, 300, cfg.MinChars)

	assert.Equal(t, 0, ChunkConfigFor(&domain.SkillsetDefinition{}).MaxChars)
	assert.Equal(t, DefaultChunkConfig(), ChunkConfigFor(nil))
}

func TestDocconvExtractor_PlainText(t *testing.T) {
	text, err := NewDocconvExtractor(false).Extract(strings.NewReader("# Title\nbody"), "text/markdown; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", text)
}

func TestDocconvExtractor_HTML(t *testing.T) {
	text, err := NewDocconvExtractor(false).Extract(strings.NewReader("<html><body><p>Two year warranty</p></body></html>"), "text/html")
	require.NoError(t, err)
	assert.Contains(t, text, "Two year warranty")
}
