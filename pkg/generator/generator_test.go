package generator_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satyajitghana/sd3-ui/pkg/generator"
	"github.com/satyajitghana/sd3-ui/pkg/pipeline"
)

type fakePipeline struct {
	requests   []pipeline.GenerateRequest
	failPrompt string
}

func (f *fakePipeline) Generate(_ context.Context, req pipeline.GenerateRequest) ([]image.Image, error) {
	f.requests = append(f.requests, req)
	for _, p := range req.Prompts {
		if p == f.failPrompt {
			return nil, errors.New("inference exploded")
		}
	}
	images := make([]image.Image, len(req.Prompts))
	for i := range images {
		images[i] = image.NewNRGBA(image.Rect(0, 0, 16, 16))
	}
	return images, nil
}

func (f *fakePipeline) SetDevice(pipeline.Device) {}

func (f *fakePipeline) Close() error { return nil }

func readLog(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "generation_log.txt"))
	require.NoError(t, err)
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestRunPartitionsPrompts(t *testing.T) {
	pipe := &fakePipeline{}
	dir := t.TempDir()
	gen := generator.New(pipe, generator.Options{
		OutputDir:      dir,
		Steps:          28,
		GuidanceScale:  7.0,
		NegativePrompt: "blurry",
		BatchSize:      2,
	})

	prompts := []string{"a", "b", "c", "d", "e"}
	require.NoError(t, gen.Run(context.Background(), prompts))

	// ceil(5/2) = 3 chunks, each at most 2, covering all prompts in order
	require.Len(t, pipe.requests, 3)
	var seen []string
	for _, req := range pipe.requests {
		assert.LessOrEqual(t, len(req.Prompts), 2)
		assert.Equal(t, len(req.Prompts), len(req.NegativePrompts))
		for _, n := range req.NegativePrompts {
			assert.Equal(t, "blurry", n)
		}
		assert.Equal(t, 28, req.Steps)
		assert.Equal(t, 7.0, req.GuidanceScale)
		seen = append(seen, req.Prompts...)
	}
	assert.Equal(t, prompts, seen)

	for i := range prompts {
		assert.FileExists(t, filepath.Join(dir, fmt.Sprintf("generated_%03d.png", i)))
	}
}

func TestRunSkipsFailedBatch(t *testing.T) {
	pipe := &fakePipeline{failPrompt: "b"}
	dir := t.TempDir()
	gen := generator.New(pipe, generator.Options{OutputDir: dir, BatchSize: 1})

	require.NoError(t, gen.Run(context.Background(), []string{"a", "b", "c"}))

	assert.FileExists(t, filepath.Join(dir, "generated_000.png"))
	assert.NoFileExists(t, filepath.Join(dir, "generated_001.png"))
	assert.FileExists(t, filepath.Join(dir, "generated_002.png"))

	lines := readLog(t, dir)
	require.Len(t, lines, 2)
	assert.Equal(t, "Image 000: a", lines[0])
	assert.Equal(t, "Image 002: c", lines[1])
}

func TestRunLogOrder(t *testing.T) {
	pipe := &fakePipeline{}
	dir := t.TempDir()
	gen := generator.New(pipe, generator.Options{OutputDir: dir, BatchSize: 1})

	prompts := []string{"first", "second", "third"}
	require.NoError(t, gen.Run(context.Background(), prompts))

	lines := readLog(t, dir)
	require.Len(t, lines, 3)
	assert.Equal(t, "Image 000: first", lines[0])
	assert.Equal(t, "Image 001: second", lines[1])
	assert.Equal(t, "Image 002: third", lines[2])
}

func TestRunDefaultsBatchSize(t *testing.T) {
	pipe := &fakePipeline{}
	gen := generator.New(pipe, generator.Options{OutputDir: t.TempDir()})
	require.NoError(t, gen.Run(context.Background(), []string{"a", "b"}))
	assert.Len(t, pipe.requests, 2)
}
