// Package pipeline downloads, segments and stores the images of whole
// product catalogs.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/detailseg"
	"github.com/menta2k/detailseg/internal/utils"
	"github.com/menta2k/detailseg/pkg/catalog"
	"github.com/menta2k/detailseg/pkg/merger"
	"github.com/menta2k/detailseg/pkg/storage"
	"github.com/menta2k/detailseg/pkg/types"
)

// Fetcher downloads and decodes one image.
type Fetcher interface {
	LoadImageFromURL(ctx context.Context, url string) (image.Image, error)
}

// Verifier optionally double-checks segment classifications.
type Verifier interface {
	Review(ctx context.Context, seg types.Segment) (types.Segment, string, error)
}

// Config holds batch concurrency and output switches
type Config struct {
	FetchWorkers   int
	SegmentWorkers int
	// SaveWhole stores every detail image unsegmented in detail/ as well.
	SaveWhole bool
	// MergeText runs the text merger on each product after segmentation.
	MergeText bool
}

// DefaultConfig returns the batch defaults
func DefaultConfig() Config {
	return Config{
		FetchWorkers:   4,
		SegmentWorkers: 2,
		SaveWhole:      true,
		MergeText:      true,
	}
}

// Summary is the outcome of one run
type Summary struct {
	RunID         string
	Products      int
	ImagesOK      int
	ImagesFailed  int
	ImagesSkipped int
	PhotoSegments int
	TextSegments  int
	Verified      int
	Merged        int
	MergeSkipped  int
	Cancelled     bool
	Duration      time.Duration
}

func (s *Summary) add(o productStats) {
	s.Products++
	s.ImagesOK += o.ok
	s.ImagesFailed += o.failed
	s.ImagesSkipped += o.skipped
	s.PhotoSegments += o.photos
	s.TextSegments += o.texts
	s.Verified += o.verified
	s.Merged += o.merged
	s.MergeSkipped += o.mergeSkipped
}

// LogValue renders the summary as a structured log group.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Int("products", s.Products),
		slog.Int("images_ok", s.ImagesOK),
		slog.Int("images_failed", s.ImagesFailed),
		slog.Int("images_skipped", s.ImagesSkipped),
		slog.Int("photo_segments", s.PhotoSegments),
		slog.Int("text_segments", s.TextSegments),
		slog.Int("verified", s.Verified),
		slog.Int("merged", s.Merged),
		slog.Int("merge_skipped", s.MergeSkipped),
		slog.Bool("cancelled", s.Cancelled),
		slog.Duration("duration", s.Duration),
	)
}

type productStats struct {
	ok           int
	failed       int
	skipped      int
	photos       int
	texts        int
	verified     int
	merged       int
	mergeSkipped int
}

// counter guards the stats of one product shared by fetch and segment
// goroutines.
type counter struct {
	mu    sync.Mutex
	stats productStats
}

func (c *counter) update(fn func(*productStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}

func (c *counter) snapshot() productStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Runner processes product lists
type Runner struct {
	config    Config
	fetcher   Fetcher
	segmenter *detailseg.Segmenter
	store     *storage.Store
	merger    *merger.Merger
	verifier  Verifier
	logger    *slog.Logger
}

// New creates a Runner. A nil merger disables merging regardless of
// config.MergeText.
func New(config Config, fetcher Fetcher, segmenter *detailseg.Segmenter, store *storage.Store, m *merger.Merger, logger *slog.Logger) *Runner {
	if config.FetchWorkers < 1 {
		config.FetchWorkers = 1
	}
	if config.SegmentWorkers < 1 {
		config.SegmentWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:    config,
		fetcher:   fetcher,
		segmenter: segmenter,
		store:     store,
		merger:    m,
		logger:    logger,
	}
}

// WithVerifier enables model verification of every segment.
func (r *Runner) WithVerifier(v Verifier) *Runner {
	r.verifier = v
	return r
}

// Run processes products in order. Per-image failures are counted and
// logged; only an unusable output directory aborts the run. Cancellation is
// checked between products: the product in flight is finished first.
func (r *Runner) Run(ctx context.Context, products []catalog.Product) (Summary, error) {
	started := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := r.logger.With("run_id", summary.RunID)

	if err := utils.EnsureWritable(r.store.Root()); err != nil {
		return summary, fmt.Errorf("output directory: %w", err)
	}

	logger.Info("run started", "products", len(products), "output", r.store.Root())

	for i, p := range products {
		if ctx.Err() != nil {
			summary.Cancelled = true
			logger.Warn("run cancelled", "remaining", len(products)-i)
			break
		}

		stats, err := r.processProduct(context.WithoutCancel(ctx), logger, p)
		if err != nil {
			summary.Duration = time.Since(started)
			return summary, err
		}
		summary.add(stats)
	}

	summary.Duration = time.Since(started)
	logger.Info("run finished", "summary", summary)
	return summary, nil
}

type detailJob struct {
	index int
	url   string
	img   image.Image
}

func (r *Runner) processProduct(ctx context.Context, logger *slog.Logger, p catalog.Product) (productStats, error) {
	logger = logger.With("product", p.ID)
	stats := &counter{}

	dir := r.store.ProductDir(p.CategoryMain, p.CategorySub, p.ID)
	if err := r.store.Prepare(dir); err != nil {
		return productStats{}, fmt.Errorf("product %s: %w", p.ID, err)
	}

	logger.Info("product status", "stage", "classifying_image",
		"summary_images", len(p.SummaryImages), "detail_images", len(p.DetailImages))

	jobs := make(chan detailJob, r.config.SegmentWorkers)
	var workers sync.WaitGroup
	for w := 0; w < r.config.SegmentWorkers; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for job := range jobs {
				r.segment(ctx, logger, dir, p, job, stats)
			}
		}()
	}

	var g errgroup.Group
	g.SetLimit(r.config.FetchWorkers)

	for i, u := range p.SummaryImages {
		g.Go(func() error {
			img, ok := r.fetch(ctx, logger, u, stats)
			if !ok {
				return nil
			}
			if _, err := r.store.SaveWhole(dir, storage.KindSummary, img, i); err != nil {
				logger.Error("save summary image failed", "url", u, "error", err)
				stats.update(func(s *productStats) { s.failed++ })
				return nil
			}
			stats.update(func(s *productStats) { s.ok++ })
			return nil
		})
	}

	for i, u := range p.DetailImages {
		g.Go(func() error {
			img, ok := r.fetch(ctx, logger, u, stats)
			if ok {
				jobs <- detailJob{index: i, url: u, img: img}
			}
			return nil
		})
	}

	g.Wait()
	close(jobs)
	workers.Wait()

	if r.config.MergeText && r.merger != nil {
		logger.Info("product status", "stage", "merging_text_image")
		report, err := r.merger.MergeTextSegments(ctx, dir.Path(storage.KindText))
		if err != nil {
			logger.Error("merge failed", "error", err)
		}
		stats.update(func(s *productStats) {
			s.merged = report.Merged
			s.mergeSkipped = report.Skipped
		})
	}

	out := stats.snapshot()
	logger.Info("product done", "ok", out.ok, "failed", out.failed, "skipped", out.skipped,
		"photo_segments", out.photos, "text_segments", out.texts, "merged", out.merged)
	return out, nil
}

func (r *Runner) fetch(ctx context.Context, logger *slog.Logger, url string, stats *counter) (image.Image, bool) {
	if strings.TrimSpace(url) == "" {
		stats.update(func(s *productStats) { s.skipped++ })
		return nil, false
	}
	img, err := r.fetcher.LoadImageFromURL(ctx, url)
	if err != nil {
		logger.Warn("image download failed", "url", url, "error", err)
		stats.update(func(s *productStats) { s.failed++ })
		return nil, false
	}
	return img, true
}

func (r *Runner) segment(ctx context.Context, logger *slog.Logger, dir storage.ProductDir, p catalog.Product, job detailJob, stats *counter) {
	if r.config.SaveWhole {
		if _, err := r.store.SaveWhole(dir, storage.KindDetail, job.img, job.index); err != nil {
			logger.Error("save detail image failed", "url", job.url, "error", err)
		}
	}

	segments, err := r.segmenter.Split(job.img, job.index)
	if err != nil {
		logger.Warn("segmentation failed", "url", job.url, "error", err)
		stats.update(func(s *productStats) { s.failed++ })
		return
	}

	photos, texts, verified := 0, 0, 0
	for _, seg := range segments {
		rec := types.SegmentRecord{SourceURL: job.url, ProductID: p.ID}

		if r.verifier != nil {
			reviewed, label, err := r.verifier.Review(ctx, seg)
			if err != nil {
				logger.Warn("segment verification failed", "url", job.url, "segment", seg.Index, "error", err)
			} else if label != "" {
				if reviewed.IsText != seg.IsText {
					logger.Info("vision model overrode classification", "url", job.url,
						"segment", seg.Index, "is_text", reviewed.IsText)
				}
				seg = reviewed
				rec.VerifiedBy = label
				verified++
			}
		}

		if _, err := r.store.SaveSegment(dir, seg, rec); err != nil {
			logger.Error("save segment failed", "url", job.url, "segment", seg.Index, "error", err)
			continue
		}
		if seg.IsText {
			texts++
		} else {
			photos++
		}
	}

	logger.Debug("image segmented", "url", job.url, "source", job.index, "photos", photos, "texts", texts)
	stats.update(func(s *productStats) {
		s.ok++
		s.photos += photos
		s.texts += texts
		s.verified += verified
	})
}
