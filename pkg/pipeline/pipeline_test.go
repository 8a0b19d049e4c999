package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/detailseg"
	"github.com/menta2k/detailseg/pkg/catalog"
	"github.com/menta2k/detailseg/pkg/merger"
	"github.com/menta2k/detailseg/pkg/processing"
	"github.com/menta2k/detailseg/pkg/storage"
	"github.com/menta2k/detailseg/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// detailImage builds a 600px wide white image with striped blocks: a
// 400-row photo block and two 60-row banners.
func detailImage() *image.NRGBA {
	img := imaging.New(600, 800, color.White)
	for _, b := range [][2]int{{20, 420}, {480, 540}, {620, 680}} {
		for y := b[0]; y < b[1]; y++ {
			for x := 0; x < 600; x++ {
				if (x/4)%2 == 0 {
					img.Set(x, y, color.NRGBA{30, 30, 30, 255})
				}
			}
		}
	}
	return img
}

type fakeFetcher struct {
	mu     sync.Mutex
	images map[string]image.Image
	calls  []string
	onCall func()
}

func (f *fakeFetcher) LoadImageFromURL(ctx context.Context, url string) (image.Image, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if img, ok := f.images[url]; ok {
		return img, nil
	}
	return nil, fmt.Errorf("%w: %s: HTTP 404", types.ErrAcquisition, url)
}

func newRunner(t *testing.T, root string, fetcher Fetcher, cfg Config) *Runner {
	t.Helper()
	store := storage.New(root, storage.Options{Format: "png"}, nil)
	m := merger.New(merger.DefaultConfig(), store, quietLogger())
	return New(cfg, fetcher, detailseg.New(), store, m, quietLogger())
}

func TestRunWritesProductTree(t *testing.T) {
	root := t.TempDir()
	fetcher := &fakeFetcher{images: map[string]image.Image{
		"https://cdn/s0.jpg": imaging.New(300, 300, color.White),
		"https://cdn/d0.jpg": detailImage(),
	}}

	products := []catalog.Product{{
		ID:            "P1",
		CategoryMain:  "Tops",
		CategorySub:   "Shirts",
		SummaryImages: []string{"https://cdn/s0.jpg", ""},
		DetailImages:  []string{"https://cdn/d0.jpg", "https://cdn/missing.jpg"},
	}}

	summary, err := newRunner(t, root, fetcher, DefaultConfig()).Run(context.Background(), products)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Products)
	assert.Equal(t, 2, summary.ImagesOK)
	assert.Equal(t, 1, summary.ImagesFailed)
	assert.Equal(t, 1, summary.ImagesSkipped)
	assert.Equal(t, 1, summary.PhotoSegments)
	assert.Equal(t, 2, summary.TextSegments)
	assert.Equal(t, 1, summary.Merged)
	assert.False(t, summary.Cancelled)

	dir := filepath.Join(root, "Tops", "Shirts", "P1")
	assert.FileExists(t, filepath.Join(dir, "summary", "0.png"))
	assert.FileExists(t, filepath.Join(dir, "detail", "0.png"))
	assert.FileExists(t, filepath.Join(dir, "segment", "0_0.png"))
	assert.FileExists(t, filepath.Join(dir, "segment", "0_0.png.json"))
	assert.FileExists(t, filepath.Join(dir, "text", "merged_0.png"))
	assert.NoFileExists(t, filepath.Join(dir, "text", "0_1.png"))
	assert.NoFileExists(t, filepath.Join(dir, "text", "0_2.png"))

	rec, err := storage.ReadRecord(filepath.Join(dir, "segment", "0_0.png"))
	require.NoError(t, err)
	assert.Equal(t, "P1", rec.ProductID)
	assert.Equal(t, "https://cdn/d0.jpg", rec.SourceURL)
	assert.False(t, rec.IsText)
}

func TestRunOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		require.NoError(t, imaging.Encode(w, detailImage(), imaging.PNG))
	}))
	defer srv.Close()

	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.MergeText = false
	runner := newRunner(t, root, processing.NewProcessor(), cfg)

	summary, err := runner.Run(context.Background(), []catalog.Product{{
		ID:           "42",
		CategoryMain: "a",
		CategorySub:  "b",
		DetailImages: []string{srv.URL + "/0.png", srv.URL + "/1.png"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ImagesOK)
	assert.Equal(t, 2, summary.PhotoSegments)
	assert.Equal(t, 4, summary.TextSegments)
	assert.FileExists(t, filepath.Join(root, "a", "b", "42", "text", "1_2.png"))
}

func TestRunStopsBetweenProducts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{
		images: map[string]image.Image{"u1": detailImage(), "u2": detailImage()},
		onCall: cancel,
	}
	products := []catalog.Product{
		{ID: "first", CategoryMain: "m", CategorySub: "s", DetailImages: []string{"u1"}},
		{ID: "second", CategoryMain: "m", CategorySub: "s", DetailImages: []string{"u2"}},
	}

	summary, err := newRunner(t, t.TempDir(), fetcher, DefaultConfig()).Run(ctx, products)
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Products)
	assert.Equal(t, 1, summary.ImagesOK, "in-flight product finishes despite cancellation")
	assert.Equal(t, []string{"u1"}, fetcher.calls)
}

func TestRunFailsOnUnwritableOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := newRunner(t, file, &fakeFetcher{}, DefaultConfig()).Run(context.Background(), nil)
	assert.Error(t, err)
}

type stubVerifier struct{}

func (stubVerifier) Review(ctx context.Context, seg types.Segment) (types.Segment, string, error) {
	seg.IsText = false
	return seg, "stub:model", nil
}

func TestRunWithVerifier(t *testing.T) {
	root := t.TempDir()
	fetcher := &fakeFetcher{images: map[string]image.Image{"u": detailImage()}}
	runner := newRunner(t, root, fetcher, DefaultConfig()).WithVerifier(stubVerifier{})

	summary, err := runner.Run(context.Background(), []catalog.Product{
		{ID: "v", CategoryMain: "m", CategorySub: "s", DetailImages: []string{"u"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.PhotoSegments)
	assert.Equal(t, 0, summary.TextSegments)
	assert.Equal(t, 3, summary.Verified)

	rec, err := storage.ReadRecord(filepath.Join(root, "m", "s", "v", "segment", "0_1.png"))
	require.NoError(t, err)
	assert.Equal(t, "stub:model", rec.VerifiedBy)
}
