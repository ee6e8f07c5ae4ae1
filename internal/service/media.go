package service

import (
	"net/url"
	"path"
	"strings"

	"storefront/internal/domain"
)

const DefaultMediaSegment = "products"

// MediaConfig база абсолютных URL для imageCover/images
type MediaConfig struct {
	BaseURL string
	Segment string
}

func (m MediaConfig) prefix() string {
	segment := strings.Trim(m.Segment, "/")
	if segment == "" {
		segment = DefaultMediaSegment
	}
	return strings.TrimRight(m.BaseURL, "/") + "/" + segment + "/"
}

// URL returns the absolute URL of a stored filename.
func (m MediaConfig) URL(name string) string {
	if name == "" || isAbsolute(name) {
		return name
	}
	return m.prefix() + name
}

// Filename is the inverse of URL: absolute media URLs become bare filenames.
func (m MediaConfig) Filename(v string) string {
	if p := m.prefix(); strings.HasPrefix(v, p) {
		return strings.TrimPrefix(v, p)
	}
	if isAbsolute(v) {
		if u, err := url.Parse(v); err == nil && u.Path != "" {
			return path.Base(u.Path)
		}
	}
	return v
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Rewrite replaces imageCover and every images entry with absolute URLs, in place.
func (m MediaConfig) Rewrite(doc domain.Document) {
	m.mapMedia(doc, m.URL)
}

// Strip turns media URLs in a payload back into filenames, in place.
func (m MediaConfig) Strip(doc domain.Document) {
	m.mapMedia(doc, m.Filename)
}

func (m MediaConfig) mapMedia(doc domain.Document, fn func(string) string) {
	if cover, ok := doc[domain.FieldImageCover].(string); ok && cover != "" {
		doc[domain.FieldImageCover] = fn(cover)
	}
	images, ok := domain.AsSlice(doc[domain.FieldImages])
	if !ok {
		return
	}
	out := make([]string, 0, len(images))
	for _, it := range images {
		if s, ok := it.(string); ok {
			out = append(out, fn(s))
		}
	}
	doc[domain.FieldImages] = out
}
