package generator

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/satyajitghana/sd3-ui/pkg/caption"
	"github.com/satyajitghana/sd3-ui/pkg/pipeline"
)

const logFileName = "generation_log.txt"

type Options struct {
	OutputDir      string
	Steps          int
	GuidanceScale  float64
	NegativePrompt string
	BatchSize      int
	Progress       bool
}

// Generator drives the pipeline over a prompt list in fixed-size batches,
// writing one annotated PNG and one log line per generated image.
type Generator struct {
	pipe pipeline.Pipeline
	opts Options
}

func New(pipe pipeline.Pipeline, opts Options) *Generator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Generator{pipe: pipe, opts: opts}
}

// Run processes all prompts. A batch whose inference call fails is logged
// and skipped; the remaining batches still run.
func (g *Generator) Run(ctx context.Context, prompts []string) error {
	if err := os.MkdirAll(g.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	numBatches := (len(prompts) + g.opts.BatchSize - 1) / g.opts.BatchSize
	var bar *progressbar.ProgressBar
	if g.opts.Progress {
		bar = progressbar.NewOptions(
			numBatches,
			progressbar.OptionSetDescription("Processing batches"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	for start := 0; start < len(prompts); start += g.opts.BatchSize {
		end := start + g.opts.BatchSize
		if end > len(prompts) {
			end = len(prompts)
		}
		if err := g.runBatch(ctx, prompts[start:end], start); err != nil {
			log.Error().Err(err).Msgf("error generating batch starting at index %d", start)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return nil
}

func (g *Generator) runBatch(ctx context.Context, batchPrompts []string, batchStart int) error {
	negatives := make([]string, len(batchPrompts))
	for i := range negatives {
		negatives[i] = g.opts.NegativePrompt
	}

	images, err := g.pipe.Generate(ctx, pipeline.GenerateRequest{
		Prompts:         batchPrompts,
		NegativePrompts: negatives,
		Steps:           g.opts.Steps,
		GuidanceScale:   g.opts.GuidanceScale,
	})
	if err != nil {
		return err
	}

	n := len(images)
	if len(batchPrompts) < n {
		n = len(batchPrompts)
	}
	for i := 0; i < n; i++ {
		globalIdx := batchStart + i
		annotated := caption.Annotate(images[i], batchPrompts[i])
		if err := g.saveImage(globalIdx, annotated); err != nil {
			return err
		}
		if err := g.appendLog(globalIdx, batchPrompts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) saveImage(idx int, img image.Image) error {
	path := filepath.Join(g.opts.OutputDir, fmt.Sprintf("generated_%03d.png", idx))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

func (g *Generator) appendLog(idx int, prompt string) error {
	path := filepath.Join(g.opts.OutputDir, logFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open generation log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "Image %03d: %s\n", idx, prompt); err != nil {
		return fmt.Errorf("failed to append to generation log: %w", err)
	}
	return nil
}
