package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

var fallbackTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".html":     "text/html",
	".htm":      "text/html",
	".json":     "application/json",
	".csv":      "text/csv",
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := fallbackTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
