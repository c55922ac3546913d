package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"manuals/warranty.md", "text/markdown"},
		{"manuals/WARRANTY.PDF", "application/pdf"},
		{"notes.txt", "text/plain"},
		{"spec.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"archive.unknownext", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContentTypeFor(tt.key))
		})
	}
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "s3://docs/a/b.md", objectURL("", "docs", "a/b.md"))
	assert.Equal(t, "http://localhost:9000/docs/a/b.md", objectURL("http://localhost:9000", "docs", "a/b.md"))
}

func TestNewBlobClient_RequiresAuth(t *testing.T) {
	_, err := NewBlobClient(BlobClientConfig{AccountURL: "https://acct.blob.core.windows.net", Container: "docs"})
	assert.Error(t, err)
}

func TestBlobClient_URL(t *testing.T) {
	// Azurite well-known development account.
	cs := "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
		"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
		"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"
	client, err := NewBlobClient(BlobClientConfig{ConnectionString: cs, Container: "products"})
	require.NoError(t, err)

	assert.Equal(t, "products", client.Container())
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/products/manuals/warranty.md", client.URL("manuals/warranty.md"))
}
