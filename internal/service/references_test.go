package service

import (
	"testing"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestLinkReferences(t *testing.T) {
	refs := []domain.Reference{
		{Title: "warranty.md", Path: "https://kb/warranty.md"},
		{Title: "returns.md", Path: "https://kb/returns.md"},
	}

	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"single", "Two years [warranty.md].", "Two years [warranty.md](https://kb/warranty.md)."},
		{"adjacent", "See [warranty.md][returns.md]", "See [warranty.md](https://kb/warranty.md)[returns.md](https://kb/returns.md)"},
		{"unknown", "See [other.md]", "See [other.md]"},
		{"already linked", "See [warranty.md](https://x)", "See [warranty.md](https://x)"},
		{"no citations", "plain answer", "plain answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LinkReferences(tt.answer, refs))
		})
	}

	assert.Equal(t, "See [warranty.md]", LinkReferences("See [warranty.md]", nil))
}

func TestLinkReferences_AnySourceType(t *testing.T) {
	refs := []domain.Reference{
		{Title: "manual.pdf", Path: "https://kb/manual.pdf"},
		{Title: "warranty.md", Path: "https://kb/warranty.md"},
	}

	got := LinkReferences("See [manual.pdf] and [warranty.md]; [step 2] stays.", refs)
	assert.Equal(t, "See [manual.pdf](https://kb/manual.pdf) and [warranty.md](https://kb/warranty.md); [step 2] stays.", got)
}
