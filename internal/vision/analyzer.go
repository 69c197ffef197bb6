package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/agentic-pharmacy/server/internal/agent/llm"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

const ocrPrompt = `You are an artificial intelligence assistant that specializes in OCR (Optical Character Recognition) for medical prescriptions.

Task: Identify the medication details in this image.
If the text is handwritten, do your best to decipher it.

Return the result as a strictly valid JSON object with these keys:
{
  "medicine_name": "Name of the drug (e.g. Amoxicillin)",
  "dosage": "Dosage string (e.g. 500mg)",
  "quantity": "Quantity integer (e.g. 10)",
  "instructions": "Directions (e.g. Take one tablet daily)"
}

Constraint: Return ONLY the JSON object. Do not output markdown code blocks. Do not output any conversational text.`

// Analyzer reads a prescription image and returns the model's raw text.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

type Config struct {
	Model     string `envconfig:"VISION_MODEL" default:"gemini-2.5-flash"`
	MaxUpload int64  `envconfig:"UPLOAD_MAX_BYTES" default:"10485760"`
}

// GeminiAnalyzer calls Gemini with the OCR prompt and the inline image. A
// quota failure on one client falls through to the next.
type GeminiAnalyzer struct {
	clients []*genai.Client
	model   string
}

func NewGeminiAnalyzer(clients []*genai.Client, model string) (*GeminiAnalyzer, error) {
	if len(clients) == 0 {
		return nil, errors.New("vision analyzer needs at least one client")
	}
	return &GeminiAnalyzer{clients: clients, model: model}, nil
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(image)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(ocrPrompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}

	var lastErr error
	for i, client := range a.clients {
		resp, err := client.Models.GenerateContent(ctx, a.model, contents, cfg)
		if err == nil {
			return resp.Text(), nil
		}
		lastErr = err
		if !llm.IsQuotaError(err) {
			return "", fmt.Errorf("vision analysis failed: %w", err)
		}
		logx.Warn().Err(err).Int("key_index", i).Msg("Vision quota exhausted, trying next credential")
	}
	return "", fmt.Errorf("vision analysis failed: %w", lastErr)
}
