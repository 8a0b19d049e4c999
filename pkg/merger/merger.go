// Package merger stitches the text fragments of each source image back into
// one vertical block.
package merger

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/detailseg/internal/utils"
	"github.com/menta2k/detailseg/pkg/processing"
	"github.com/menta2k/detailseg/pkg/storage"
	"github.com/menta2k/detailseg/pkg/types"
)

// Config holds configuration for merging
type Config struct {
	// MinFragmentHeight discards thinner fragments from a group.
	MinFragmentHeight int
	// MinMergeHeight is the smallest total height worth merging.
	MinMergeHeight int
	// TargetLongestEdge bounds the merged image; 0 disables resizing.
	TargetLongestEdge int
}

// DefaultConfig returns the merge defaults
func DefaultConfig() Config {
	return Config{
		MinFragmentHeight: 10,
		MinMergeHeight:    80,
	}
}

// Report counts the outcome of one directory pass.
type Report struct {
	Merged  int
	Skipped int
	Failed  int
	Removed int
}

// Merger merges text fragments inside a directory
type Merger struct {
	config Config
	store  *storage.Store
	logger *slog.Logger
}

// New creates a Merger that writes through store.
func New(config Config, store *storage.Store, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{config: config, store: store, logger: logger}
}

type fragment struct {
	path   string
	record types.SegmentRecord
	img    image.Image
}

// MergeTextSegments groups the text fragments in dir by source image and
// replaces every group of two or more with a single merged image. Groups
// are processed in ascending source order; a failing group does not stop
// the others.
func (m *Merger) MergeTextSegments(ctx context.Context, dir string) (Report, error) {
	var report Report

	files, err := utils.ListDirImages(dir)
	if err != nil {
		return report, fmt.Errorf("list %s: %w", dir, err)
	}

	groups := m.group(files)
	sources := make([]int, 0, len(groups))
	for src := range groups {
		sources = append(sources, src)
	}
	sort.Ints(sources)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		members := groups[src]
		if len(members) < 2 {
			continue
		}

		removed, err := m.mergeGroup(dir, src, members)
		switch {
		case errors.Is(err, errInsufficient):
			report.Skipped++
		case err != nil:
			report.Failed++
			m.logger.Error("merge failed", "dir", dir, "source", src, "error", err)
		default:
			report.Merged++
			report.Removed += removed
		}
	}

	return report, nil
}

// group collects text fragments by source index. Merged outputs, photos and
// files without an identity are left alone.
func (m *Merger) group(files []string) map[int][]fragment {
	groups := make(map[int][]fragment)
	for _, path := range files {
		rec, ok := storage.Identify(path)
		if !ok || !rec.IsText || rec.Merged {
			continue
		}
		groups[rec.SourceIndex] = append(groups[rec.SourceIndex], fragment{path: path, record: rec})
	}

	for _, members := range groups {
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].record.Index != members[j].record.Index {
				return members[i].record.Index < members[j].record.Index
			}
			return utils.NaturalLess(members[i].path, members[j].path)
		})
	}
	return groups
}

var errInsufficient = errors.New("merged height below threshold")

func (m *Merger) mergeGroup(dir string, src int, members []fragment) (int, error) {
	var kept []fragment
	for _, f := range members {
		img, err := imaging.Open(f.path)
		if err != nil {
			m.logger.Warn("skipping unreadable fragment", "file", f.path, "error", err)
			continue
		}
		if img.Bounds().Dy() < m.config.MinFragmentHeight {
			m.logger.Debug("discarding thin fragment", "file", f.path, "height", img.Bounds().Dy())
			continue
		}
		f.img = img
		kept = append(kept, f)
	}

	width, height := 0, 0
	for _, f := range kept {
		width = max(width, f.img.Bounds().Dx())
		height += f.img.Bounds().Dy()
	}
	if len(kept) == 0 || height < m.config.MinMergeHeight {
		m.logger.Warn("not enough text content to merge, keeping fragments",
			"dir", dir, "source", src, "fragments", len(kept), "height", height)
		return 0, errInsufficient
	}

	canvas := stack(kept, width, height)
	out := processing.FitLongestEdge(canvas, m.config.TargetLongestEdge)

	name := storage.MergedName(src, m.store.Ext())
	path := filepath.Join(dir, name)
	if err := m.store.SaveImage(out, path); err != nil {
		return 0, err
	}

	first := kept[0].record
	rec := types.SegmentRecord{
		SourceIndex: src,
		IsText:      true,
		Merged:      true,
		StartRow:    first.StartRow,
		EndRow:      kept[len(kept)-1].record.EndRow,
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
		File:        name,
		SourceURL:   first.SourceURL,
		ProductID:   first.ProductID,
	}
	if err := storage.WriteRecord(path, rec); err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range members {
		if err := storage.Remove(f.path); err != nil {
			m.logger.Warn("could not remove merged fragment", "file", f.path, "error", err)
			continue
		}
		removed++
	}

	m.logger.Info("merged text segments", "dir", dir, "source", src,
		"fragments", len(kept), "file", name, "width", rec.Width, "height", rec.Height)
	return removed, nil
}

// stack pastes the fragment images top to bottom, left-aligned, on a white
// width x height canvas.
func stack(fragments []fragment, width, height int) *image.NRGBA {
	canvas := imaging.New(width, height, color.White)
	y := 0
	for _, f := range fragments {
		canvas = imaging.Paste(canvas, f.img, image.Pt(0, y))
		y += f.img.Bounds().Dy()
	}
	return canvas
}
