package types

import (
	"errors"
	"image"
)

// Errors shared by the pipeline stages. Callers wrap them with the URL, path
// or product id they relate to.
var (
	ErrAcquisition       = errors.New("image acquisition failed")
	ErrDecode            = errors.New("image decode failed")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrEmptyImage        = errors.New("image has no pixels")
)

// RowSignal holds one entry per image row; true marks a blank separator row.
type RowSignal []bool

// Count returns the number of separator rows.
func (s RowSignal) Count() int {
	n := 0
	for _, v := range s {
		if v {
			n++
		}
	}
	return n
}

// Region is a closed interval of rows [Start, End].
type Region struct {
	Start int `json:"start_row"`
	End   int `json:"end_row"`
}

// Height returns End-Start+1. Inverted regions report zero.
func (r Region) Height() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Segment is a crop of a source image plus its identity within the batch.
type Segment struct {
	Image       image.Image
	Region      Region
	SourceIndex int
	Index       int
	IsText      bool
}

// SegmentRecord is the sidecar persisted next to every fragment and merged
// file. It is the authoritative identity of the file; the filename is only a
// derived encoding of SourceIndex and Index.
type SegmentRecord struct {
	SourceIndex int    `json:"source_index"`
	Index       int    `json:"segment_index"`
	IsText      bool   `json:"is_text"`
	Merged      bool   `json:"merged,omitempty"`
	StartRow    int    `json:"start_row"`
	EndRow      int    `json:"end_row"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	File        string `json:"file"`
	SourceURL   string `json:"source_url,omitempty"`
	ProductID   string `json:"product_id,omitempty"`
	VerifiedBy  string `json:"verified_by,omitempty"`
}

// InputKind tags the variant held by an Input.
type InputKind int

const (
	InputPath InputKind = iota
	InputURL
	InputImage
)

func (k InputKind) String() string {
	switch k {
	case InputPath:
		return "path"
	case InputURL:
		return "url"
	case InputImage:
		return "image"
	default:
		return "unknown"
	}
}

// Input is an image handed to the pipeline either by location or in memory.
// Use the constructors; processing.Resolve turns any variant into a raster.
type Input struct {
	Kind  InputKind
	Path  string
	URL   string
	Image image.Image
}

func FromPath(path string) Input { return Input{Kind: InputPath, Path: path} }
func FromURL(url string) Input { return Input{Kind: InputURL, URL: url} }
func FromImage(img image.Image) Input { return Input{Kind: InputImage, Image: img} }

// Identifier returns the path or URL, used in log and error context.
func (in Input) Identifier() string {
	switch in.Kind {
	case InputPath:
		return in.Path
	case InputURL:
		return in.URL
	default:
		return "<memory>"
	}
}

// BannerVerdict is the answer of a vision model asked whether a segment is a
// rendered text banner.
type BannerVerdict struct {
	IsText      bool     `json:"is_text"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}
