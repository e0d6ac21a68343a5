package initenv

import (
	"github.com/andrebq/authopenid/internal/app"
	"github.com/andrebq/authopenid/internal/cmdflags"
	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var dir, cfg string
	return &cli.Command{
		Name:  "initenv",
		Usage: "Create a new environment with all the tables it needs",
		Flags: []cli.Flag{
			cmdflags.Environment(&dir),
			cmdflags.Config(&cfg),
		},
		Action: func(ctx *cli.Context) error {
			a, err := app.Open(ctx.Context, dir, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()
			err = a.Env.Create(ctx.Context)
			if err != nil {
				return err
			}
			log := logutil.GetOrDefault(ctx.Context)
			log.Info().Str("env", a.Env.Path()).Msg("Environment ready")
			return nil
		},
	}
}
