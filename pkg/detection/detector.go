// Package detection asks a vision model to confirm text banner
// classifications made from segment geometry.
package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/detailseg/pkg/client"
	"github.com/menta2k/detailseg/pkg/processing"
	"github.com/menta2k/detailseg/pkg/types"
)

// PingPrompt checks that the model can see images at all.
const PingPrompt = `What do you see in this image? Describe it briefly.`

// BannerPrompt is the default classification prompt
const BannerPrompt = `You are reviewing one slice of an online shop product detail page.

Decide whether this slice is a TEXT BANNER (rendered text, size chart, notice,
headline, washing instructions, table) or a PHOTO (product shot, model shot,
texture close-up), even if a photo carries a short caption.

Return JSON only:
{
  "is_text": true,
  "confidence": 0.0,
  "description": "short neutral sentence (max 15 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

Rules:
- confidence is in [0,1].
- Tags: lowercase, concise, no duplicates.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Config holds configuration for banner verification
type Config struct {
	Model string
	// MinConfidence is the lowest verdict confidence allowed to override
	// the geometric classification.
	MinConfidence float64
	// MaxDimension bounds the image sent to the model.
	MaxDimension int
	Prompt       string
}

// Verifier confirms or overturns segment classifications
type Verifier struct {
	client    client.VisionClient
	processor *processing.Processor
	config    Config
	backend   string
}

// NewVerifier creates a verifier. backend names the model server in sidecar
// records ("ollama", "llamacpp").
func NewVerifier(c client.VisionClient, backend string, config Config) *Verifier {
	if config.Prompt == "" {
		config.Prompt = BannerPrompt
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = 1024
	}
	return &Verifier{
		client:    c,
		processor: processing.NewProcessor(),
		config:    config,
		backend:   backend,
	}
}

// VerifyBanner asks the model about img.
func (v *Verifier) VerifyBanner(ctx context.Context, img image.Image) (*types.BannerVerdict, error) {
	b64, err := v.processor.PrepareImageForModel(img, "jpg", v.config.MaxDimension, 90)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	verdict, err := v.client.ClassifyBanner(ctx, v.config.Model, v.config.Prompt, b64)
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// Review returns seg with IsText replaced by the model verdict when the
// model is confident enough, and the label to record as VerifiedBy. Errors
// and low-confidence answers keep the geometric classification and an
// empty label.
func (v *Verifier) Review(ctx context.Context, seg types.Segment) (types.Segment, string, error) {
	verdict, err := v.VerifyBanner(ctx, seg.Image)
	if err != nil {
		return seg, "", err
	}
	if isFallback(verdict) || verdict.Confidence < v.config.MinConfidence {
		return seg, "", nil
	}
	seg.IsText = verdict.IsText
	return seg, v.backend + ":" + v.config.Model, nil
}

// Ping sends PingPrompt and returns the answer
func (v *Verifier) Ping(ctx context.Context, img image.Image) (string, error) {
	b64, err := v.processor.PrepareImageForModel(img, "jpg", v.config.MaxDimension, 90)
	if err != nil {
		return "", err
	}
	return v.client.Query(ctx, v.config.Model, PingPrompt, b64)
}

func isFallback(verdict *types.BannerVerdict) bool {
	for _, tag := range verdict.Tags {
		if strings.EqualFold(tag, "fallback") {
			return true
		}
	}
	return false
}
