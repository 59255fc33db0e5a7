package ingest

import (
	"context"
	"fmt"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/platform/ollama"
	"github.com/plutolabs/pluto-backend/internal/types"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {},
	".webp": {}, ".tiff": {}, ".tif": {},
}

const imageDescribePrompt = "Describe this image in 2-3 sentences. Focus on the main subject and any visible text."

// ImageProducer emits a single chunk per image file. When a vision model is
// configured the content is a generated description; otherwise a
// deterministic filename-and-size string keeps the chunk text-searchable.
// Raw bytes ride along for the image embedding space.
type ImageProducer struct {
	log    *logger.Logger
	vision ollama.VisionDescriber
}

func NewImageProducer(log *logger.Logger, vision ollama.VisionDescriber) *ImageProducer {
	return &ImageProducer{log: log.With("service", "IMAGE_PRODUCER"), vision: vision}
}

func (p *ImageProducer) Match(ext string) bool {
	_, ok := imageExtensions[ext]
	return ok
}

func (p *ImageProducer) Produce(ctx context.Context, file File) ([]RawChunk, error) {
	content := fmt.Sprintf("Image file %s (%d bytes)", file.Name, len(file.Data))
	if p.vision != nil && p.vision.VisionAvailable() {
		described, err := p.vision.DescribeImage(ctx, file.Data, imageDescribePrompt)
		if err != nil {
			p.log.Warn("vision description failed, using filename fallback",
				"file", file.Name, "error", err)
		} else if described != "" {
			content = described
		}
	}
	return []RawChunk{{
		Modality:  types.ModalityImage,
		Content:   content,
		ImagePath: file.Name,
		ImageData: file.Data,
	}}, nil
}
