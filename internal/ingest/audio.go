package ingest

import (
	"context"
	"fmt"

	"github.com/plutolabs/pluto-backend/internal/platform/logger"
	"github.com/plutolabs/pluto-backend/internal/types"
)

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".m4a": {}, ".ogg": {}, ".flac": {}, ".aac": {}, ".wma": {},
}

// TranscriptSegment is one timed portion of a transcription.
type TranscriptSegment struct {
	Text  string
	Start float64
	End   float64
}

// Transcriber is the external speech-to-text contract. The module never ships
// a model; deployments plug one in.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename string) ([]TranscriptSegment, error)
}

// AudioProducer chunks audio by transcript segment. Without a transcriber the
// file still indexes as a single filename-derived chunk so it is discoverable.
type AudioProducer struct {
	log         *logger.Logger
	transcriber Transcriber
}

func NewAudioProducer(log *logger.Logger, transcriber Transcriber) *AudioProducer {
	return &AudioProducer{log: log.With("service", "AUDIO_PRODUCER"), transcriber: transcriber}
}

func (p *AudioProducer) Match(ext string) bool {
	_, ok := audioExtensions[ext]
	return ok
}

func (p *AudioProducer) Produce(ctx context.Context, file File) ([]RawChunk, error) {
	if p.transcriber == nil {
		p.log.Warn("no transcriber configured, indexing filename only", "file", file.Name)
		return []RawChunk{{
			Modality: types.ModalityAudio,
			Content:  fmt.Sprintf("Audio file %s (%d bytes)", file.Name, len(file.Data)),
		}}, nil
	}
	segments, err := p.transcriber.Transcribe(ctx, file.Data, file.Name)
	if err != nil {
		return nil, &Error{Code: ErrorProduceFailed, Message: "transcription failed", Cause: err}
	}
	var chunks []RawChunk
	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		chunks = append(chunks, RawChunk{
			Modality:       types.ModalityAudio,
			Content:        seg.Text,
			Duration:       seg.End - seg.Start,
			TimestampRange: fmt.Sprintf("%.1f-%.1f", seg.Start, seg.End),
		})
	}
	return chunks, nil
}
