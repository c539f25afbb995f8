package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/satyajitghana/sd3-ui/pkg/generator"
	"github.com/satyajitghana/sd3-ui/pkg/pipeline"
	"github.com/satyajitghana/sd3-ui/pkg/prompt"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.App{
		Name:  "genimages",
		Usage: "Generate images using Stable Diffusion 3",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "prompt_file",
				Usage: "Path to the text file containing prompts",
				Value: "prompts.txt",
			},
			&cli.StringFlag{
				Name:  "output_dir",
				Usage: "Directory to save generated images",
				Value: "images",
			},
			&cli.IntFlag{
				Name:  "steps",
				Usage: "Number of inference steps",
				Value: 28,
			},
			&cli.Float64Flag{
				Name:  "guidance_scale",
				Usage: "Guidance scale for generation",
				Value: 7.0,
			},
			&cli.StringFlag{
				Name:  "negative_prompt",
				Usage: "Negative prompt for generation",
				Value: "",
			},
			&cli.IntFlag{
				Name:  "batch_size",
				Usage: "Number of images to generate in parallel",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model reference: bundle directory, pipeline config path or model id",
				Value: "stabilityai/stable-diffusion-3-medium-diffusers",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("generation failed")
	}
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	pipe, err := pipeline.FromPretrained(c.String("model"))
	if err != nil {
		return err
	}
	defer pipe.Close()
	if pipeline.CUDAAvailable() {
		pipe.SetDevice(pipeline.CUDADevice(0))
	}

	prompts, err := prompt.ReadFile(c.String("prompt_file"))
	if err != nil {
		return err
	}
	log.Info().Msgf("loaded %d prompts from %s", len(prompts), c.String("prompt_file"))

	gen := generator.New(pipe, generator.Options{
		OutputDir:      c.String("output_dir"),
		Steps:          c.Int("steps"),
		GuidanceScale:  c.Float64("guidance_scale"),
		NegativePrompt: c.String("negative_prompt"),
		BatchSize:      c.Int("batch_size"),
		Progress:       true,
	})
	return gen.Run(context.Background(), prompts)
}
