package regions

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/detailseg/pkg/types"
)

// signalWithContent builds a separator signal of height rows where the given
// half-open row ranges are content.
func signalWithContent(height int, content ...[2]int) types.RowSignal {
	signal := make(types.RowSignal, height)
	for i := range signal {
		signal[i] = true
	}
	for _, c := range content {
		for y := c[0]; y < c[1]; y++ {
			signal[y] = false
		}
	}
	return signal
}

func TestFindContentRegions(t *testing.T) {
	tests := []struct {
		name     string
		signal   types.RowSignal
		expected []types.Region
	}{
		{
			name:     "all blank",
			signal:   signalWithContent(10),
			expected: nil,
		},
		{
			name:     "all content",
			signal:   signalWithContent(5, [2]int{0, 5}),
			expected: []types.Region{{Start: 0, End: 4}},
		},
		{
			name:     "content at both edges",
			signal:   signalWithContent(10, [2]int{0, 2}, [2]int{7, 10}),
			expected: []types.Region{{Start: 0, End: 1}, {Start: 7, End: 9}},
		},
		{
			name:     "single row runs",
			signal:   types.RowSignal{true, false, true, false, true},
			expected: []types.Region{{Start: 1, End: 1}, {Start: 3, End: 3}},
		},
		{
			name:     "empty signal",
			signal:   types.RowSignal{},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FindContentRegions(tt.signal))
		})
	}
}

func TestFindContentRegionsNeverOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	signal := make(types.RowSignal, 2000)
	for i := range signal {
		signal[i] = rng.Intn(3) == 0
	}

	regions := FindContentRegions(signal)
	require.NotEmpty(t, regions)

	for i, r := range regions {
		assert.LessOrEqual(t, r.Start, r.End)
		for y := r.Start; y <= r.End; y++ {
			assert.False(t, signal[y], "row %d inside region is a separator", y)
		}
		if i > 0 {
			assert.Greater(t, r.Start, regions[i-1].End+1, "regions %d and %d touch", i-1, i)
		}
	}
}

func TestConsolidateAllBlankFallsBackToWholeImage(t *testing.T) {
	c := New()
	regions := c.Detect(signalWithContent(500))

	assert.Equal(t, []types.Region{{Start: 0, End: 499}}, regions)
}

func TestConsolidateNoiseOnlyFallsBackToWholeImage(t *testing.T) {
	c := New()
	regions := c.Detect(signalWithContent(200, [2]int{10, 15}, [2]int{100, 110}))

	assert.Equal(t, []types.Region{{Start: 0, End: 199}}, regions)
}

func TestConsolidateMergesSmallGap(t *testing.T) {
	// Two 100-row blocks separated by a 2-row gap.
	c := NewWithConfig(Config{MinContentHeight: 20, MinWhiteGap: 3, Padding: 5})
	regions := c.Detect(signalWithContent(300, [2]int{40, 140}, [2]int{142, 242}))

	require.Len(t, regions, 1)
	assert.GreaterOrEqual(t, regions[0].Height(), 202)
	assert.Equal(t, types.Region{Start: 35, End: 246}, regions[0])
}

func TestConsolidateKeepsLargeGap(t *testing.T) {
	c := NewWithConfig(Config{MinContentHeight: 20, MinWhiteGap: 3, Padding: 5})
	regions := c.Detect(signalWithContent(350, [2]int{40, 140}, [2]int{190, 290}))

	assert.Equal(t, []types.Region{{Start: 35, End: 144}, {Start: 185, End: 294}}, regions)
}

func TestConsolidateGapEqualToThresholdSplits(t *testing.T) {
	c := NewWithConfig(Config{MinContentHeight: 1, MinWhiteGap: 3, Padding: 0})
	regions := c.Consolidate([]types.Region{{Start: 0, End: 9}, {Start: 13, End: 20}}, 30)

	assert.Len(t, regions, 2)
}

func TestConsolidateClampsPadding(t *testing.T) {
	c := NewWithConfig(Config{MinContentHeight: 5, MinWhiteGap: 3, Padding: 10})
	regions := c.Consolidate([]types.Region{{Start: 2, End: 40}, {Start: 80, End: 98}}, 100)

	assert.Equal(t, []types.Region{{Start: 0, End: 50}, {Start: 70, End: 99}}, regions)
}

func TestConsolidateInvertedCollapsesToSingleRow(t *testing.T) {
	c := NewWithConfig(Config{MinContentHeight: 1, MinWhiteGap: 0, Padding: -3})
	regions := c.Consolidate([]types.Region{{Start: 10, End: 12}}, 50)

	require.Len(t, regions, 1)
	assert.Equal(t, types.Region{Start: 13, End: 13}, regions[0])
	assert.Equal(t, 1, regions[0].Height())
}

func TestConsolidateZeroHeight(t *testing.T) {
	assert.Empty(t, New().Consolidate(nil, 0))
}

func TestConsolidateCoversAllContent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	height := 3000
	signal := make(types.RowSignal, height)
	for y := 0; y < height; {
		run := 1 + rng.Intn(120)
		blank := rng.Intn(2) == 0
		for i := 0; i < run && y < height; i++ {
			signal[y] = blank
			y++
		}
	}

	c := New()
	crops := c.Detect(signal)
	require.NotEmpty(t, crops)

	for _, r := range FindContentRegions(signal) {
		if r.Height() < c.config.MinContentHeight {
			continue
		}
		for y := r.Start; y <= r.End; y++ {
			covered := false
			for _, crop := range crops {
				if y >= crop.Start && y <= crop.End {
					covered = true
					break
				}
			}
			require.True(t, covered, "content row %d not covered by any crop", y)
		}
	}

	for i, crop := range crops {
		assert.GreaterOrEqual(t, crop.Start, 0)
		assert.Less(t, crop.End, height)
		assert.LessOrEqual(t, crop.Start, crop.End)
		if i > 0 {
			assert.Greater(t, crop.Start, crops[i-1].Start)
		}
	}
}

func TestConsolidateDeterministic(t *testing.T) {
	signal := signalWithContent(400, [2]int{10, 60}, [2]int{61, 100}, [2]int{200, 380})
	c := New()

	assert.Equal(t, c.Detect(signal), c.Detect(signal))
}
