package main

import (
	"os"

	"github.com/danmuck/lightviz/internal/config"
	"github.com/danmuck/lightviz/internal/logging"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const defaultOutput = "vizctl.toml"

func main() {
	logging.ConfigureRuntime()

	format := flag.String("format", "toml", "template format: toml|yaml")
	output := flag.StringP("output", "o", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.StringP("input", "i", defaultOutput, "config path for --validate")
	force := flag.BoolP("force", "f", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("validate config")
		}
		log.Info().
			Str("path", *input).
			Str("url", cfg.Session.URL).
			Str("session_manager", cfg.Session.SessionManagerURL).
			Msg("config valid")
		return
	}

	target := *output
	if target == "" {
		target = defaultOutput
		if *format == "yaml" || *format == "yml" {
			target = "vizctl.yaml"
		}
	}
	if err := config.WriteTemplate(target, *format, *force); err != nil {
		log.Error().Err(err).Msg("write template")
		os.Exit(1)
	}
	log.Info().Str("format", *format).Str("path", target).Msg("wrote config template")
}
