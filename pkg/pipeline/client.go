package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const configFileName = "pipeline.yaml"

type backendConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Client runs prompts against a diffusion inference backend over HTTP.
// It satisfies Pipeline; all sampling happens on the backend.
type Client struct {
	cfg        *backendConfig
	device     Device
	httpClient *http.Client
}

// FromPretrained loads a pipeline from a model reference: a bundle directory
// containing pipeline.yaml, a config file path, or a bare model id (in which
// case the backend endpoint comes from SD_BACKEND_URL / SD_BACKEND_API_KEY).
func FromPretrained(ref string) (*Client, error) {
	cfg := &backendConfig{}

	configFile := ""
	if info, err := os.Stat(ref); err == nil {
		if info.IsDir() {
			configFile = filepath.Join(ref, configFileName)
		} else {
			configFile = ref
		}
	}

	if configFile != "" {
		v := viper.New()
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read pipeline config: %w", err)
		}
		if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
		}
	} else {
		cfg.Model = ref
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("SD_BACKEND_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("SD_BACKEND_API_KEY")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("no inference endpoint configured for model %q", ref)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}

	log.Info().Msgf("pipeline loaded: model=%s endpoint=%s", cfg.Model, cfg.Endpoint)
	return &Client{
		cfg:        cfg,
		device:     DeviceCPU,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// SetDevice records the compute placement forwarded to the backend.
func (c *Client) SetDevice(device Device) {
	c.device = device
	log.Info().Msgf("pipeline moved to device %s", device)
}

type inferencePayload struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
	Options    inferenceOptions    `json:"options"`
}

type inferenceParameters struct {
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
}

type inferenceOptions struct {
	Model  string `json:"model,omitempty"`
	Device string `json:"device,omitempty"`
}

// Generate runs every prompt in the request through the backend and decodes
// the returned image bytes. One failed prompt fails the whole batch.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]image.Image, error) {
	images := make([]image.Image, 0, len(req.Prompts))
	for i, p := range req.Prompts {
		negative := ""
		if i < len(req.NegativePrompts) {
			negative = req.NegativePrompts[i]
		}
		img, err := c.generateOne(ctx, p, negative, req)
		if err != nil {
			return nil, fmt.Errorf("failed to generate image for prompt %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (c *Client) generateOne(ctx context.Context, prompt, negative string, req GenerateRequest) (image.Image, error) {
	payload := inferencePayload{
		Inputs: prompt,
		Parameters: inferenceParameters{
			NegativePrompt:    negative,
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
			Width:             req.Width,
			Height:            req.Height,
		},
		Options: inferenceOptions{
			Model:  c.cfg.Model,
			Device: string(c.device),
		},
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			log.Error().Msgf("backend response: %s", string(body))
		}
		return nil, fmt.Errorf("received non-200 response from backend: %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode backend image: %w", err)
	}
	return img, nil
}

// Close releases the backend connection pool.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
