package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/plutolabs/pluto-backend/internal/types"
)

// File is an in-memory upload handed to the pipeline.
type File struct {
	Name string
	Data []byte
}

func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// RawChunk is what a producer emits before embedding and payload tagging.
// ImageData, when present, feeds the image embedding space.
type RawChunk struct {
	Modality       types.Modality
	Content        string
	PageNumber     int
	ImagePath      string
	Duration       float64
	TimestampRange string
	ImageData      []byte
}

// Producer turns one file into ordered chunks. Implementations are selected
// by extension; external callers may register their own (PDF extraction lives
// outside this module).
type Producer interface {
	Match(ext string) bool
	Produce(ctx context.Context, file File) ([]RawChunk, error)
}

type Registry struct {
	producers []Producer
}

func NewRegistry(producers ...Producer) *Registry {
	return &Registry{producers: producers}
}

func (r *Registry) Register(p Producer) {
	r.producers = append(r.producers, p)
}

// ForFile returns the first producer claiming the file's extension.
func (r *Registry) ForFile(file File) (Producer, bool) {
	ext := file.Ext()
	for _, p := range r.producers {
		if p.Match(ext) {
			return p, true
		}
	}
	return nil, false
}
