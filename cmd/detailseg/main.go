package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/menta2k/detailseg"
	"github.com/menta2k/detailseg/internal/config"
	"github.com/menta2k/detailseg/internal/utils"
	"github.com/menta2k/detailseg/pkg/catalog"
	"github.com/menta2k/detailseg/pkg/client"
	"github.com/menta2k/detailseg/pkg/detection"
	"github.com/menta2k/detailseg/pkg/llamacpp"
	"github.com/menta2k/detailseg/pkg/merger"
	"github.com/menta2k/detailseg/pkg/ollama"
	"github.com/menta2k/detailseg/pkg/pipeline"
	"github.com/menta2k/detailseg/pkg/processing"
	"github.com/menta2k/detailseg/pkg/storage"
	"github.com/menta2k/detailseg/pkg/types"
)

func main() {
	var mode, configPath, in, products, outDir, format string
	var ratio float64
	var verify, debug, writeConfig bool

	flag.StringVar(&mode, "mode", "split", "split | merge | batch | plan")
	flag.StringVar(&configPath, "config", "", "config file (.json or .yaml), default "+config.GetConfigPath())
	flag.StringVar(&in, "in", "", "split/plan: image path, URL or directory; merge: output tree or text directory")
	flag.StringVar(&products, "products", "", "batch: product list (.json or .yaml)")
	flag.StringVar(&outDir, "out", "", "output directory (overrides config)")
	flag.StringVar(&format, "ext", "", "output format jpg|png|webp (overrides config)")
	flag.Float64Var(&ratio, "ratio", 0, "text banner aspect ratio (overrides config)")
	flag.BoolVar(&verify, "verify", false, "ask the vision model to confirm segment classifications")
	flag.BoolVar(&debug, "debug", false, "split: also write separator/crop overlay images")
	flag.BoolVar(&writeConfig, "write-config", false, "write the effective config to -config and exit")
	flag.Parse()

	cfg := loadConfig(configPath)
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if ratio > 0 {
		cfg.Cropper.TextBannerAspectRatio = ratio
	}
	if verify {
		cfg.Vision.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if writeConfig {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", path)
		return
	}

	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor := processing.NewProcessor(
		processing.WithTimeout(cfg.FetchTimeout()),
		processing.WithUserAgent(userAgent(cfg)),
	)
	segmenter := detailseg.NewWithConfig(cfg.AnalyzerSettings(), cfg.RegionsSettings(), cfg.CropperSettings()).
		WithProcessor(processor)
	store := storage.New(cfg.Output.Dir, cfg.StorageOptions(), processor)
	textMerger := merger.New(cfg.MergerSettings(), store, logger)

	switch mode {
	case "split":
		requireFlag(in, "-in")
		runSplit(ctx, logger, cfg, segmenter, store, processor, in, debug)
	case "plan":
		requireFlag(in, "-in")
		runPlan(ctx, segmenter, processor, in)
	case "merge":
		requireFlag(in, "-in")
		runMerge(ctx, logger, textMerger, in)
	case "batch":
		requireFlag(products, "-products")
		runBatch(ctx, logger, cfg, segmenter, store, textMerger, processor, products)
	default:
		log.Fatalf("unknown mode %q (use split, merge, batch or plan)", mode)
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		if utils.FileExists(config.GetConfigPath()) {
			path = config.GetConfigPath()
		} else {
			return config.Default()
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func userAgent(cfg *config.Config) string {
	if cfg.Fetch.UserAgent != "" {
		return cfg.Fetch.UserAgent
	}
	return processing.DefaultUserAgent
}

func requireFlag(value, name string) {
	if value == "" {
		log.Fatalf("usage: %s -mode split|plan|merge -in <path> | -mode batch -products list.yaml [-config cfg.yaml] [-out dir] (missing %s)",
			filepath.Base(os.Args[0]), name)
	}
}

// inputs expands in into the images to split: a URL, a file or every image
// of a directory.
func inputs(in string) []types.Input {
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") || strings.HasPrefix(in, "//") {
		return []types.Input{types.FromURL(in)}
	}
	if utils.DirExists(in) {
		files, err := utils.ListImageFiles(in)
		if err != nil {
			log.Fatal(err)
		}
		out := make([]types.Input, 0, len(files))
		for _, f := range files {
			out = append(out, types.FromPath(f))
		}
		return out
	}
	return []types.Input{types.FromPath(in)}
}

func newVerifier(cfg *config.Config) *detection.Verifier {
	var visionClient client.VisionClient
	var err error

	switch cfg.Vision.Backend {
	case "ollama":
		var c *ollama.Client
		if c, err = ollama.NewClient(cfg.Vision.URL); err == nil {
			visionClient = c.WithTimeout(cfg.VisionTimeout())
		}
	case "llamacpp":
		visionClient, err = llamacpp.NewClient(cfg.Vision.URL)
	default:
		err = fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.Vision.Backend)
	}
	if err != nil {
		log.Fatalf("failed to create vision client: %v", err)
	}
	return detection.NewVerifier(visionClient, cfg.Vision.Backend, cfg.DetectionSettings())
}

// runSplit segments local files or single URLs into
// {out}/{name}/{segment|text}/ without the product tree.
func runSplit(ctx context.Context, logger *slog.Logger, cfg *config.Config, segmenter *detailseg.Segmenter,
	store *storage.Store, processor *processing.Processor, in string, debug bool) {
	var verifier *detection.Verifier
	if cfg.Vision.Enabled {
		verifier = newVerifier(cfg)
	}

	for _, input := range inputs(in) {
		if ctx.Err() != nil {
			logger.Warn("interrupted")
			return
		}

		img, err := processor.Resolve(ctx, input)
		if err != nil {
			logger.Error("load failed", "input", input.Identifier(), "error", err)
			continue
		}

		segments, err := segmenter.Split(img, 0)
		if err != nil {
			logger.Error("split failed", "input", input.Identifier(), "error", err)
			continue
		}

		name := utils.StripExtension(input.Identifier())
		dir := store.FlatDir(name)
		if err := store.Prepare(dir); err != nil {
			log.Fatal(err)
		}

		for _, seg := range segments {
			rec := types.SegmentRecord{SourceURL: input.URL}
			if verifier != nil {
				reviewed, label, err := verifier.Review(ctx, seg)
				if err != nil {
					logger.Warn("verification failed", "segment", seg.Index, "error", err)
				} else if label != "" {
					seg, rec.VerifiedBy = reviewed, label
				}
			}
			path, err := store.SaveSegment(dir, seg, rec)
			if err != nil {
				logger.Error("save failed", "segment", seg.Index, "error", err)
				continue
			}
			logger.Info("wrote segment", "file", path, "rows", fmt.Sprintf("%d-%d", seg.Region.Start, seg.Region.End), "text", seg.IsText)
		}

		if debug {
			overlay := segmenter.DebugOverlay(img)
			path := filepath.Join(string(dir), "debug_overlay."+store.Ext())
			if err := store.SaveImage(overlay, path); err != nil {
				logger.Warn("debug overlay save failed", "error", err)
			} else {
				logger.Info("wrote debug overlay", "file", path)
			}
		}
	}
}

// runPlan prints the crop plan and row statistics of one image as JSON.
func runPlan(ctx context.Context, segmenter *detailseg.Segmenter, processor *processing.Processor, in string) {
	img, err := processor.Resolve(ctx, inputs(in)[0])
	if err != nil {
		log.Fatal(err)
	}

	plan := segmenter.Plan(img)
	out := struct {
		detailseg.Plan
		SeparatorRows int `json:"separator_rows"`
	}{plan, plan.Signal.Count()}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}

// runMerge merges a single text directory, or every text directory below in.
func runMerge(ctx context.Context, logger *slog.Logger, m *merger.Merger, in string) {
	dirs := []string{in}
	if filepath.Base(in) != string(storage.KindText) {
		var err error
		dirs, err = utils.FindDirs(in, string(storage.KindText))
		if err != nil {
			log.Fatal(err)
		}
	}

	var total merger.Report
	for _, dir := range dirs {
		report, err := m.MergeTextSegments(ctx, dir)
		if err != nil {
			logger.Error("merge aborted", "dir", dir, "error", err)
			break
		}
		total.Merged += report.Merged
		total.Skipped += report.Skipped
		total.Failed += report.Failed
		total.Removed += report.Removed
	}
	logger.Info("merge finished", "dirs", len(dirs), "merged", total.Merged,
		"skipped", total.Skipped, "failed", total.Failed, "removed", total.Removed)
}

func runBatch(ctx context.Context, logger *slog.Logger, cfg *config.Config, segmenter *detailseg.Segmenter,
	store *storage.Store, m *merger.Merger, processor *processing.Processor, productsPath string) {
	list, err := catalog.Load(productsPath)
	if err != nil {
		log.Fatal(err)
	}

	runner := pipeline.New(pipeline.Config{
		FetchWorkers:   cfg.Fetch.Workers,
		SegmentWorkers: cfg.Pipeline.SegmentWorkers,
		SaveWhole:      cfg.Output.SaveWhole,
		MergeText:      cfg.Merger.Enabled,
	}, processor, segmenter, store, m, logger)
	if cfg.Vision.Enabled {
		runner.WithVerifier(newVerifier(cfg))
	}

	summary, err := runner.Run(ctx, list)
	if err != nil {
		log.Fatal(err)
	}
	if summary.Cancelled {
		os.Exit(130)
	}
}
