package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/andrebq/authopenid/cmd/authopenid/cleanup"
	"github.com/andrebq/authopenid/cmd/authopenid/initenv"
	"github.com/andrebq/authopenid/cmd/authopenid/serve"
	"github.com/andrebq/authopenid/cmd/authopenid/upgrade"
	"github.com/andrebq/authopenid/internal/cmdflags"
	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	// a missing .env is not an error
	_ = godotenv.Load()

	var level string
	var pretty bool
	app := &cli.App{
		Name:  "authopenid",
		Usage: "Sign in visitors using their OpenID",
		Flags: []cli.Flag{
			cmdflags.LogLevel(&level),
			cmdflags.PrettyLog(&pretty),
		},
		Before: func(ctx *cli.Context) error {
			_, err := logutil.Setup(level, pretty)
			return err
		},
		Commands: []*cli.Command{
			initenv.Cmd(),
			upgrade.Cmd(),
			serve.Cmd(),
			cleanup.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
