// Package regions turns a row separator signal into crop intervals.
package regions

import (
	"github.com/menta2k/detailseg/pkg/types"
)

// Consolidator filters, merges and pads content regions
type Consolidator struct {
	config Config
}

// Config holds configuration for region consolidation
type Config struct {
	// MinContentHeight drops shorter regions as noise.
	MinContentHeight int
	// MinWhiteGap is the smallest separator gap kept as a split point.
	MinWhiteGap int
	// Padding rows are added above and below every region.
	Padding int
}

// DefaultConfig returns the consolidation defaults
func DefaultConfig() Config {
	return Config{
		MinContentHeight: 20,
		MinWhiteGap:      3,
		Padding:          5,
	}
}

// New creates a new Consolidator with default configuration
func New() *Consolidator {
	return &Consolidator{config: DefaultConfig()}
}

// NewWithConfig creates a new Consolidator with custom configuration
func NewWithConfig(config Config) *Consolidator {
	return &Consolidator{config: config}
}

// FindContentRegions returns the runs of non-separator rows, top to bottom.
func FindContentRegions(signal types.RowSignal) []types.Region {
	var regions []types.Region

	height := len(signal)
	for y := 0; y < height; {
		if signal[y] {
			y++
			continue
		}
		start := y
		for y < height && !signal[y] {
			y++
		}
		regions = append(regions, types.Region{Start: start, End: y - 1})
	}

	return regions
}

// Detect finds the content regions of signal and consolidates them.
func (c *Consolidator) Detect(signal types.RowSignal) []types.Region {
	return c.Consolidate(FindContentRegions(signal), len(signal))
}

// Consolidate applies, in order, the noise filter, the gap merge and the
// padding. When no region survives the noise filter the whole image
// [0, height-1] is returned as a single region.
func (c *Consolidator) Consolidate(regions []types.Region, height int) []types.Region {
	if height <= 0 {
		return nil
	}

	valid := c.filterNoise(regions)
	if len(valid) == 0 {
		return []types.Region{{Start: 0, End: height - 1}}
	}

	merged := c.mergeGaps(valid)

	out := make([]types.Region, 0, len(merged))
	for _, r := range merged {
		out = append(out, c.pad(r, height))
	}
	return out
}

func (c *Consolidator) filterNoise(regions []types.Region) []types.Region {
	valid := make([]types.Region, 0, len(regions))
	for _, r := range regions {
		if r.Height() >= c.config.MinContentHeight && r.Height() > 0 {
			valid = append(valid, r)
		}
	}
	return valid
}

// mergeGaps joins neighbours separated by fewer than MinWhiteGap rows.
func (c *Consolidator) mergeGaps(regions []types.Region) []types.Region {
	merged := make([]types.Region, 0, len(regions))
	current := regions[0]

	for _, next := range regions[1:] {
		gap := next.Start - current.End - 1
		if gap < c.config.MinWhiteGap {
			if next.End > current.End {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}

	return append(merged, current)
}

// pad expands r by Padding rows clamped to the image. An inverted result
// collapses to a single row.
func (c *Consolidator) pad(r types.Region, height int) types.Region {
	start := clamp(r.Start-c.config.Padding, 0, height-1)
	end := clamp(r.End+c.config.Padding, 0, height-1)
	if start > end {
		end = start
	}
	return types.Region{Start: start, End: end}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
