package domain

import (
	"encoding/base64"
	"path"
	"strings"
	"time"
)

// Document is a source file uploaded to object storage during provisioning.
type Document struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	Metadata    map[string]string
	UploadedAt  time.Time
}

// DocumentIDFor derives the stable document id from an object key.
func DocumentIDFor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// NewDocument creates a Document for the given object key.
func NewDocument(key, contentType string, size int64) *Document {
	return &Document{
		ID:          DocumentIDFor(key),
		Name:        key,
		ContentType: contentType,
		Size:        size,
		Metadata:    map[string]string{},
		UploadedAt:  time.Now().UTC(),
	}
}

// Title returns the document file name, used as the entry title.
func (d *Document) Title() string {
	return path.Base(d.Name)
}

// Validate checks required fields
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrMissingRequiredField.WithCause(errMissing("name"))
	}
	if d.ID == "" {
		return ErrMissingRequiredField.WithCause(errMissing("id"))
	}
	return nil
}

// ObjectInfo describes an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

type missingFieldError string

func (e missingFieldError) Error() string { return string(e) + " is required" }

func errMissing(field string) error { return missingFieldError(field) }
