// Package client defines the contract shared by the vision model backends.
package client

import (
	"context"

	"github.com/menta2k/detailseg/pkg/types"
)

// VisionClient talks to a multimodal model server.
type VisionClient interface {
	// Query sends prompt and image and returns the raw model answer.
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
	// ClassifyBanner asks whether the image is a rendered text banner.
	ClassifyBanner(ctx context.Context, model, prompt, imgB64 string) (*types.BannerVerdict, error)
}
