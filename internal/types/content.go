package types

import (
	"fmt"
	"maps"
	"time"
)

type ContentType string

const (
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentHTML  ContentType = "html"
	ContentURL   ContentType = "url"
)

func ParseContentType(s string) (ContentType, error) {
	switch ct := ContentType(s); ct {
	case ContentImage, ContentVideo, ContentHTML, ContentURL:
		return ct, nil
	}
	return "", fmt.Errorf("%w: unknown content type %q", ErrInvalidInput, s)
}

// DefaultContentDuration is used when an item is created without one.
const DefaultContentDuration = 10

// ContentItem is the metadata of a piece of content. Its bytes live in
// the byte store under the same id.
type ContentItem struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            ContentType       `json:"type"`
	MimeType        string            `json:"mimeType"`
	Size            int64             `json:"size"`
	Checksum        string            `json:"checksum"`
	DurationSeconds int               `json:"durationSeconds"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (c ContentItem) Clone() ContentItem {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}

var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/svg+xml":   ".svg",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"text/html":       ".html",
	"application/pdf": ".pdf",
}

// FileExtension maps a MIME type to the extension devices store it under.
func FileExtension(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return ".bin"
}
