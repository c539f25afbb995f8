package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satyajitghana/sd3-ui/config"
	"github.com/satyajitghana/sd3-ui/service"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configFile := "./config/config.yaml"
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		configFile = v
	}
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	//creating a new instance of the model server
	modelServer := service.NewService(cfg)

	if err := modelServer.StartService(); err != nil {
		log.Fatal().Err(err).Msg("failed to start model server")
	}
}
