package vision

import (
	"context"
	"fmt"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// Service runs an uploaded prescription through the analyzer and extracts
// the structured fields.
type Service struct {
	analyzer Analyzer
}

func NewService(analyzer Analyzer) *Service {
	return &Service{analyzer: analyzer}
}

// ProcessPrescription never fails: analyzer errors and malformed output both
// come back as diagnostic objects.
func (s *Service) ProcessPrescription(ctx context.Context, image []byte, mimeType string) map[string]any {
	text, err := s.analyzer.Analyze(ctx, image, mimeType)
	if err != nil {
		logx.Error().Err(err).Int("bytes", len(image)).Msg("Prescription analysis failed")
		return map[string]any{
			"error":      fmt.Sprintf("Failed to process image: %v", err),
			"raw_output": err.Error(),
		}
	}

	ext := ExtractJSON(text)
	if !ext.OK() {
		logx.Warn().Str("reason", ext.Error).Msg("Vision output was not valid JSON")
	}
	return ext.Body()
}
