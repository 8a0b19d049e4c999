// Package detailseg splits tall product-detail images into photo and text
// segments.
//
// A detail image is a vertical stack of product photos and rendered text
// banners separated by blank white rows. detailseg finds those rows, cuts the
// image into content regions and classifies each region by its shape.
//
// Basic usage:
//
//	seg := detailseg.New()
//
//	img, err := imaging.Open("detail.jpg")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	segments, err := seg.Split(img, 0)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, s := range segments {
//		fmt.Printf("segment %d rows %d-%d text=%v\n", s.Index, s.Region.Start, s.Region.End, s.IsText)
//	}
//
// The work is split across these packages:
//
//  1. Analyzer (pkg/analyzer): classifies every row as separator or content
//  2. Regions (pkg/regions): turns the row signal into padded crop intervals
//  3. Cropper (pkg/cropper): cuts the regions and tags text banners
//  4. Merger (pkg/merger): stitches the text fragments of one source back
//     together after they have been written to disk
//  5. Pipeline (pkg/pipeline): downloads, segments and stores whole product
//     catalogs
//
// A row is a separator when it is bright, has almost no dark pixels and its
// horizontal brightness changes are tiny. Runs of content rows shorter than
// the noise threshold are dropped, runs separated by very thin gaps are
// joined, and every region gets a few rows of padding.
package detailseg

import (
	"context"
	"fmt"
	"image"

	"github.com/menta2k/detailseg/pkg/analyzer"
	"github.com/menta2k/detailseg/pkg/cropper"
	"github.com/menta2k/detailseg/pkg/processing"
	"github.com/menta2k/detailseg/pkg/regions"
	"github.com/menta2k/detailseg/pkg/types"
)

// Version of the detailseg library
const Version = "1.0.0"

// Segmenter runs row classification, region consolidation and cropping
type Segmenter struct {
	analyzer     *analyzer.RowAnalyzer
	consolidator *regions.Consolidator
	cropper      *cropper.Cropper
	processor    *processing.Processor
}

// New creates a new Segmenter with default configuration
func New() *Segmenter {
	return &Segmenter{
		analyzer:     analyzer.New(),
		consolidator: regions.New(),
		cropper:      cropper.New(),
		processor:    processing.NewProcessor(),
	}
}

// NewWithConfig creates a new Segmenter with custom configuration
func NewWithConfig(analyzerConfig analyzer.Config, regionsConfig regions.Config, cropConfig cropper.CropConfig) *Segmenter {
	return &Segmenter{
		analyzer:     analyzer.NewWithConfig(analyzerConfig),
		consolidator: regions.NewWithConfig(regionsConfig),
		cropper:      cropper.NewWithConfig(cropConfig),
		processor:    processing.NewProcessor(),
	}
}

// WithProcessor replaces the processor used to resolve inputs.
func (s *Segmenter) WithProcessor(p *processing.Processor) *Segmenter {
	s.processor = p
	return s
}

// Plan describes how an image would be split, without cropping it
type Plan struct {
	Info analyzer.ImageInfo `json:"info"`
	// Signal has one entry per row, true for separator rows.
	Signal types.RowSignal `json:"-"`
	// Content holds the raw runs of content rows.
	Content []types.Region `json:"content"`
	// Crops holds the consolidated crop intervals.
	Crops []types.Region `json:"crops"`
}

// Plan classifies the rows of img and computes its crop intervals.
func (s *Segmenter) Plan(img image.Image) Plan {
	signal := s.analyzer.ClassifyRows(img)
	content := regions.FindContentRegions(signal)
	return Plan{
		Info:    analyzer.GetImageInfo(img),
		Signal:  signal,
		Content: content,
		Crops:   s.consolidator.Consolidate(content, len(signal)),
	}
}

// Split cuts img into classified segments. sourceIndex identifies img within
// its product and is copied onto every segment.
func (s *Segmenter) Split(img image.Image, sourceIndex int) ([]types.Segment, error) {
	if err := analyzer.ValidateImage(img); err != nil {
		return nil, err
	}
	plan := s.Plan(img)
	return s.cropper.CropSegments(img, plan.Crops, sourceIndex), nil
}

// SplitInput resolves in and splits the resulting image.
func (s *Segmenter) SplitInput(ctx context.Context, in types.Input, sourceIndex int) ([]types.Segment, error) {
	img, err := s.processor.Resolve(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("resolve %s input %s: %w", in.Kind, in.Identifier(), err)
	}
	return s.Split(img, sourceIndex)
}

// IsTextBanner classifies a single segment image by its shape.
func (s *Segmenter) IsTextBanner(img image.Image) bool {
	return s.cropper.IsTextBanner(img)
}

// DebugOverlay renders the separator rows and crop bounds of img.
func (s *Segmenter) DebugOverlay(img image.Image) *image.NRGBA {
	plan := s.Plan(img)
	return processing.CreateDebugOverlay(img, plan.Signal, plan.Crops)
}

// RowStats exposes the per-row measurements behind the separator decision.
func (s *Segmenter) RowStats(img image.Image) []analyzer.RowStat {
	return s.analyzer.RowStats(img)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
