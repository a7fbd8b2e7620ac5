package index

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

// ContentType is the category of content a document belongs to.
type ContentType string

const (
	Jobs      ContentType = "jobs"
	Events    ContentType = "events"
	Forums    ContentType = "forums"
	Members   ContentType = "members"
	Mentors   ContentType = "mentors"
	Resources ContentType = "resources"
	News      ContentType = "news"
)

// AllContentTypes lists every content type in a stable order.
var AllContentTypes = []ContentType{Jobs, Events, Forums, Members, Mentors, Resources, News}

// ParseContentType accepts a content type name in any case.
func ParseContentType(s string) (ContentType, bool) {
	t := ContentType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

func (t ContentType) Valid() bool {
	for _, known := range AllContentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata carries the attributes used for filtering, faceting and
// tie-breaking. None of it is indexed as free text.
type Metadata struct {
	Category  string            `json:"category,omitempty"`
	Location  string            `json:"location,omitempty"`
	Company   string            `json:"company,omitempty"`
	Language  string            `json:"language,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitzero"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Document is the unit of indexing. ID is unique within Type.
type Document struct {
	ID          string      `json:"id"`
	Type        ContentType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Content     string      `json:"content,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	URL         string      `json:"url,omitempty"`
	Metadata    Metadata    `json:"metadata"`
}

// DocRef identifies a document across all content types.
type DocRef struct {
	Type ContentType `json:"type"`
	ID   string      `json:"id"`
}

func (r DocRef) String() string {
	return string(r.Type) + "/" + r.ID
}

// Less orders refs by type then id.
func (r DocRef) Less(o DocRef) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	return r.ID < o.ID
}

func (d *Document) Ref() DocRef {
	return DocRef{Type: d.Type, ID: d.ID}
}

// Validate rejects documents that cannot be addressed in the index.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document id is required")
	}
	if d.Type == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document %s: type is required", d.ID)
	}
	if !d.Type.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document %s: unknown type %q", d.ID, d.Type)
	}
	return nil
}

// clone returns a deep copy with tags deduplicated case-insensitively, so
// callers can keep mutating their own value after indexing.
func (d *Document) clone() *Document {
	c := *d
	c.Tags = dedupeTags(d.Tags)
	if d.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(d.Metadata.Extra))
		for k, v := range d.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// NotFound builds the error returned when ref is not indexed.
func NotFound(ref DocRef) error {
	return fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, ref)
}
