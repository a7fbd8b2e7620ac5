// Package source provides ContentSource implementations that feed full and
// per-type index rebuilds.
package source

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
)

// Static serves documents held in memory. It backs local development seed
// files and tests.
type Static struct {
	mu       sync.RWMutex
	docs     map[index.ContentType][]*index.Document
	failures map[index.ContentType]error
}

func NewStatic(docs ...*index.Document) *Static {
	s := &Static{
		docs:     make(map[index.ContentType][]*index.Document),
		failures: make(map[index.ContentType]error),
	}
	s.Add(docs...)
	return s
}

// Add appends documents to their type's set.
func (s *Static) Add(docs ...*index.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.Type] = append(s.docs[d.Type], d)
	}
}

// Set replaces the documents of type t.
func (s *Static) Set(t index.ContentType, docs []*index.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[t] = docs
}

// Fail makes loads of type t return err until it is cleared with a nil err.
func (s *Static) Fail(t index.ContentType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, t)
		return
	}
	s.failures[t] = err
}

func (s *Static) Load(ctx context.Context, t index.ContentType) ([]*index.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[t]; err != nil {
		return nil, err
	}
	return append([]*index.Document(nil), s.docs[t]...), nil
}

// yamlDocument mirrors index.Document with YAML field names.
type yamlDocument struct {
	ID          string            `yaml:"id"`
	Type        string            `yaml:"type"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Content     string            `yaml:"content"`
	Tags        []string          `yaml:"tags"`
	URL         string            `yaml:"url"`
	Category    string            `yaml:"category"`
	Location    string            `yaml:"location"`
	Company     string            `yaml:"company"`
	Language    string            `yaml:"language"`
	CreatedAt   time.Time         `yaml:"createdAt"`
	Extra       map[string]string `yaml:"extra"`
}

// LoadSeedFile reads a YAML file with a top-level "documents" list.
func LoadSeedFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	var raw struct {
		Documents []yamlDocument `yaml:"documents"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	s := NewStatic()
	for _, d := range raw.Documents {
		s.Add(&index.Document{
			ID:          d.ID,
			Type:        index.ContentType(d.Type),
			Title:       d.Title,
			Description: d.Description,
			Content:     d.Content,
			Tags:        d.Tags,
			URL:         d.URL,
			Metadata: index.Metadata{
				Category:  d.Category,
				Location:  d.Location,
				Company:   d.Company,
				Language:  d.Language,
				CreatedAt: d.CreatedAt,
				Extra:     d.Extra,
			},
		})
	}
	return s, nil
}
