// Package storage lays out the output tree and persists images with their
// sidecar records.
package storage

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/detailseg/internal/utils"
	"github.com/menta2k/detailseg/pkg/processing"
	"github.com/menta2k/detailseg/pkg/types"
)

// Kind names the per-product sub-directory an image belongs to.
type Kind string

const (
	KindSummary Kind = "summary"
	KindDetail  Kind = "detail"
	KindSegment Kind = "segment"
	KindText    Kind = "text"
)

// SidecarExt is appended to an image path to name its record.
const SidecarExt = ".json"

// MergedPrefix marks merged text blocks.
const MergedPrefix = "merged_"

// Options controls how images are encoded on disk
type Options struct {
	Format   string
	Quality  int
	Lossless bool
}

// Store writes images and records under a root directory
type Store struct {
	root      string
	opts      Options
	processor *processing.Processor
}

// New creates a Store rooted at root.
func New(root string, opts Options, processor *processing.Processor) *Store {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	if opts.Quality <= 0 {
		opts.Quality = 95
	}
	return &Store{root: root, opts: opts, processor: processor}
}

// Root returns the output root.
func (s *Store) Root() string { return s.root }

// Ext returns the file extension used for every written image.
func (s *Store) Ext() string { return processing.Extension(s.opts.Format) }

// ProductDir is the directory of one product:
// {root}/{category_main}/{category_sub}/{product_id}.
type ProductDir string

// ProductDir builds the sanitised product directory path.
func (s *Store) ProductDir(categoryMain, categorySub, productID string) ProductDir {
	return ProductDir(filepath.Join(s.root,
		utils.SanitizeFilename(categoryMain),
		utils.SanitizeFilename(categorySub),
		utils.SanitizeFilename(productID),
	))
}

// FlatDir is a product-less directory {root}/{name}, used when splitting
// loose files.
func (s *Store) FlatDir(name string) ProductDir {
	return ProductDir(filepath.Join(s.root, utils.SanitizeFilename(name)))
}

// Path returns the sub-directory for kind.
func (d ProductDir) Path(kind Kind) string {
	return filepath.Join(string(d), string(kind))
}

// Prepare creates every sub-directory of d.
func (s *Store) Prepare(d ProductDir) error {
	for _, kind := range []Kind{KindSummary, KindDetail, KindSegment, KindText} {
		if err := utils.EnsureDir(d.Path(kind)); err != nil {
			return fmt.Errorf("create %s: %w", d.Path(kind), err)
		}
	}
	return nil
}

// WholeName is the file name of an unsegmented source image.
func WholeName(sourceIndex int, ext string) string {
	return fmt.Sprintf("%d.%s", sourceIndex, ext)
}

// FragmentName is the file name of segment segmentIndex of source sourceIndex.
func FragmentName(sourceIndex, segmentIndex int, ext string) string {
	return fmt.Sprintf("%d_%d.%s", sourceIndex, segmentIndex, ext)
}

// MergedName is the file name of the merged text block of a source.
func MergedName(sourceIndex int, ext string) string {
	return fmt.Sprintf("%s%d.%s", MergedPrefix, sourceIndex, ext)
}

// ParseFragmentName recovers the source and segment index from a fragment
// file name. Merged files and foreign names report ok == false.
func ParseFragmentName(name string) (sourceIndex, segmentIndex int, ok bool) {
	stem := utils.StripExtension(name)
	if strings.HasPrefix(stem, MergedPrefix) {
		return 0, 0, false
	}
	src, seg, found := strings.Cut(stem, "_")
	if !found {
		return 0, 0, false
	}
	a, err := strconv.Atoi(src)
	if err != nil || a < 0 {
		return 0, 0, false
	}
	b, err := strconv.Atoi(seg)
	if err != nil || b < 0 {
		return 0, 0, false
	}
	return a, b, true
}

// SidecarPath returns the record path of imagePath.
func SidecarPath(imagePath string) string {
	return imagePath + SidecarExt
}

// SaveImage encodes img to path in the configured format.
func (s *Store) SaveImage(img image.Image, path string) error {
	return s.processor.SaveImage(img, path, s.opts.Format, s.opts.Quality, s.opts.Lossless)
}

// SaveWhole writes an unsegmented source image into the kind directory.
func (s *Store) SaveWhole(d ProductDir, kind Kind, img image.Image, sourceIndex int) (string, error) {
	path := filepath.Join(d.Path(kind), WholeName(sourceIndex, s.Ext()))
	if err := s.SaveImage(img, path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveSegment writes seg into segment/ or text/ with its sidecar record. rec
// supplies provenance (SourceURL, ProductID, VerifiedBy); identity and
// geometry are filled from seg.
func (s *Store) SaveSegment(d ProductDir, seg types.Segment, rec types.SegmentRecord) (string, error) {
	kind := KindSegment
	if seg.IsText {
		kind = KindText
	}
	name := FragmentName(seg.SourceIndex, seg.Index, s.Ext())
	path := filepath.Join(d.Path(kind), name)

	if err := s.SaveImage(seg.Image, path); err != nil {
		return "", err
	}

	b := seg.Image.Bounds()
	rec.SourceIndex = seg.SourceIndex
	rec.Index = seg.Index
	rec.IsText = seg.IsText
	rec.StartRow = seg.Region.Start
	rec.EndRow = seg.Region.End
	rec.Width = b.Dx()
	rec.Height = b.Dy()
	rec.File = name

	if err := WriteRecord(path, rec); err != nil {
		return "", err
	}
	return path, nil
}

// WriteRecord stores rec as the sidecar of imagePath.
func WriteRecord(imagePath string, rec types.SegmentRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", imagePath, err)
	}
	if err := os.WriteFile(SidecarPath(imagePath), data, 0644); err != nil {
		return fmt.Errorf("write record for %s: %w", imagePath, err)
	}
	return nil
}

// ReadRecord loads the sidecar of imagePath. A missing sidecar is reported
// with an error satisfying os.IsNotExist.
func ReadRecord(imagePath string) (types.SegmentRecord, error) {
	var rec types.SegmentRecord
	data, err := os.ReadFile(SidecarPath(imagePath))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse record for %s: %w", imagePath, err)
	}
	return rec, nil
}

// Identify returns the record of imagePath, falling back to the identity
// encoded in its file name when no sidecar exists. ok is false when neither
// source yields an identity.
func Identify(imagePath string) (types.SegmentRecord, bool) {
	rec, err := ReadRecord(imagePath)
	if err == nil {
		if rec.File == "" {
			rec.File = filepath.Base(imagePath)
		}
		return rec, true
	}

	src, seg, ok := ParseFragmentName(filepath.Base(imagePath))
	if !ok {
		return types.SegmentRecord{}, false
	}
	return types.SegmentRecord{
		SourceIndex: src,
		Index:       seg,
		IsText:      filepath.Base(filepath.Dir(imagePath)) == string(KindText),
		File:        filepath.Base(imagePath),
	}, true
}

// Remove deletes imagePath and its sidecar, ignoring a missing sidecar.
func Remove(imagePath string) error {
	if err := os.Remove(imagePath); err != nil {
		return err
	}
	if err := os.Remove(SidecarPath(imagePath)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
