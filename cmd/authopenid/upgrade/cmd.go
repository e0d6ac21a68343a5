package upgrade

import (
	"github.com/andrebq/authopenid/internal/app"
	"github.com/andrebq/authopenid/internal/cmdflags"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var dir, cfg string
	var check bool
	return &cli.Command{
		Name:  "upgrade",
		Usage: "Create the tables missing from an existing environment",
		Flags: []cli.Flag{
			cmdflags.Environment(&dir),
			cmdflags.Config(&cfg),
			&cli.BoolFlag{
				Name:        "check",
				Usage:       "Only report if an upgrade is needed",
				Destination: &check,
			},
		},
		Action: func(ctx *cli.Context) error {
			a, err := app.Open(ctx.Context, dir, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.Env.Logger()
			needed, err := a.Env.NeedsUpgrade(ctx.Context)
			if err != nil {
				return err
			}
			if !needed {
				log.Info().Msg("Environment is up to date")
				return nil
			}
			if check {
				log.Warn().Msg("Environment needs an upgrade")
				return cli.Exit("environment needs an upgrade", 2)
			}
			n, err := a.Env.Upgrade(ctx.Context)
			if err != nil {
				return err
			}
			log.Info().Int("participants", n).Msg("Environment upgraded")
			return nil
		},
	}
}
