package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
)

// Device names a compute placement for the pipeline, "cpu" or "cuda:<index>".
type Device string

const DeviceCPU Device = "cpu"

func CUDADevice(gpuID int) Device {
	return Device(fmt.Sprintf("cuda:%d", gpuID))
}

// ResolveDevice picks cuda:<id> when a GPU id is supplied and CUDA is
// available on the host, and cpu otherwise.
func ResolveDevice(gpuID *int, cudaAvailable bool) Device {
	if cudaAvailable && gpuID != nil {
		return CUDADevice(*gpuID)
	}
	return DeviceCPU
}

// CUDAAvailable reports whether the host exposes an NVIDIA driver.
func CUDAAvailable() bool {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	return os.Getenv("NVIDIA_VISIBLE_DEVICES") != ""
}

// GenerateRequest carries one batch of prompts through the pipeline.
// NegativePrompts, when set, must align positionally with Prompts.
type GenerateRequest struct {
	Prompts         []string
	NegativePrompts []string
	Steps           int
	GuidanceScale   float64
	Width           int
	Height          int
}

// Pipeline is the pretrained text-to-image model, invoked as a black box.
// Generate returns one image per prompt, in prompt order.
type Pipeline interface {
	Generate(ctx context.Context, req GenerateRequest) ([]image.Image, error)
	SetDevice(device Device)
	Close() error
}
