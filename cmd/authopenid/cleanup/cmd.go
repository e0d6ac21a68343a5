package cleanup

import (
	"time"

	"github.com/andrebq/authopenid/internal/app"
	"github.com/andrebq/authopenid/internal/cmdflags"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var dir, cfg string
	var sessionAge time.Duration
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove expired nonces, associations and stale sessions",
		Flags: []cli.Flag{
			cmdflags.Environment(&dir),
			cmdflags.Config(&cfg),
			&cli.DurationFlag{
				Name:        "session-age",
				Usage:       "Remove sessions not visited for this long, zero keeps all sessions",
				Value:       90 * 24 * time.Hour,
				Destination: &sessionAge,
			},
		},
		Action: func(ctx *cli.Context) error {
			a, err := app.Open(ctx.Context, dir, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Cleanup(ctx.Context, sessionAge)
		},
	}
}
