package handler

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/satyajitghana/sd3-ui/pkg/pipeline"
)

const (
	archiveName    = "sd3-model.zip"
	extractSubdir  = "model"
	inferenceSteps = 28
	guidanceScale  = 7.0
	outputSize     = 1024
)

// State tracks the handler lifecycle. Preprocess, Inference and Postprocess
// are only valid once Initialize has succeeded.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
)

// Context carries the host-provided model artefact properties.
type Context struct {
	ModelDir string
	GPUID    *int
}

// Request is one raw payload from the hosting runtime; Data and Body hold a
// string or a UTF-8 byte payload.
type Request struct {
	Data any
	Body any
}

// SD3Handler adapts the pretrained pipeline to the hosting runtime's
// initialize / preprocess / inference / postprocess contract. The host is
// assumed to serialize calls into a single handler instance.
type SD3Handler struct {
	state  State
	device pipeline.Device
	pipe   pipeline.Pipeline

	// Loader builds the pipeline from the extracted bundle path;
	// overridable in tests.
	Loader func(path string) (pipeline.Pipeline, error)
}

func NewSD3Handler() *SD3Handler {
	return &SD3Handler{
		state: StateUninitialized,
		Loader: func(path string) (pipeline.Pipeline, error) {
			return pipeline.FromPretrained(path)
		},
	}
}

func (h *SD3Handler) State() State {
	return h.state
}

// Initialize extracts the model archive, loads the pipeline from the
// extracted path and binds the compute device. Any failure is fatal: the
// error propagates and the handler stays uninitialized.
func (h *SD3Handler) Initialize(hostCtx *Context) error {
	start := time.Now()
	log.Info().Msgf("starting initialization, model dir: %s", hostCtx.ModelDir)

	cudaAvailable := pipeline.CUDAAvailable()
	log.Info().Msgf("CUDA available: %v", cudaAvailable)
	device := pipeline.ResolveDevice(hostCtx.GPUID, cudaAvailable)
	log.Info().Msgf("using device: %s", device)

	zipPath := filepath.Join(hostCtx.ModelDir, archiveName)
	extractPath := filepath.Join(hostCtx.ModelDir, extractSubdir)
	log.Info().Msgf("extracting model from %s to %s", zipPath, extractPath)
	if err := pipeline.ExtractArchive(zipPath, extractPath); err != nil {
		log.Error().Err(err).Msg("error during model extraction")
		return fmt.Errorf("failed to extract model archive: %w", err)
	}
	log.Info().Msg("model extraction completed")

	pipe, err := h.Loader(extractPath)
	if err != nil {
		log.Error().Err(err).Msg("error during pipeline loading")
		return fmt.Errorf("failed to load pipeline: %w", err)
	}
	pipe.SetDevice(device)

	h.pipe = pipe
	h.device = device
	h.state = StateInitialized
	log.Info().Msgf("initialization completed in %.2f seconds", time.Since(start).Seconds())
	return nil
}

// Preprocess extracts the prompt text from each request, preferring the
// data field and falling back to body, decoding byte payloads as UTF-8.
// The returned slice aligns positionally with the input batch.
func (h *SD3Handler) Preprocess(requests []Request) ([]string, error) {
	if h.state != StateInitialized {
		return nil, fmt.Errorf("handler is not initialized")
	}

	inputs := make([]string, 0, len(requests))
	for i, req := range requests {
		payload := req.Data
		if payload == nil {
			payload = req.Body
		}
		switch v := payload.(type) {
		case string:
			inputs = append(inputs, v)
		case []byte:
			inputs = append(inputs, string(v))
		case nil:
			return nil, fmt.Errorf("request %d carries no data or body field", i)
		default:
			return nil, fmt.Errorf("request %d carries unsupported payload type %T", i, payload)
		}
	}
	log.Info().Msgf("preprocessing completed, total inputs: %d", len(inputs))
	return inputs, nil
}

// Inference runs the full input list through the pipeline at the fixed
// step count, guidance scale and output resolution. Failure is fatal for
// the request batch.
func (h *SD3Handler) Inference(ctx context.Context, inputs []string) ([]image.Image, error) {
	if h.state != StateInitialized {
		return nil, fmt.Errorf("handler is not initialized")
	}

	start := time.Now()
	log.Info().Msgf("starting inference with %d inputs", len(inputs))
	images, err := h.pipe.Generate(ctx, pipeline.GenerateRequest{
		Prompts:       inputs,
		Steps:         inferenceSteps,
		GuidanceScale: guidanceScale,
		Width:         outputSize,
		Height:        outputSize,
	})
	if err != nil {
		log.Error().Err(err).Msg("error during inference")
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	log.Info().Msgf("inference completed in %.2f seconds, generated %d images", time.Since(start).Seconds(), len(images))
	return images, nil
}

// ImageArray is one image flattened to rows of RGB byte triples, the
// serializable form returned to the hosting runtime.
type ImageArray [][][3]uint8

// Postprocess converts each generated image into its nested-array form.
func (h *SD3Handler) Postprocess(images []image.Image) ([]ImageArray, error) {
	if h.state != StateInitialized {
		return nil, fmt.Errorf("handler is not initialized")
	}

	out := make([]ImageArray, 0, len(images))
	for _, img := range images {
		out = append(out, toArray(img))
	}
	log.Info().Msgf("postprocessing completed for %d images", len(out))
	return out, nil
}

func toArray(img image.Image) ImageArray {
	bounds := img.Bounds()
	rows := make(ImageArray, bounds.Dy())
	for y := range rows {
		row := make([][3]uint8, bounds.Dx())
		for x := range row {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			row[x] = [3]uint8{c.R, c.G, c.B}
		}
		rows[y] = row
	}
	return rows
}
