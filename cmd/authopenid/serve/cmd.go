package serve

import (
	"time"

	"github.com/andrebq/authopenid/internal/app"
	"github.com/andrebq/authopenid/internal/cmdflags"
	"github.com/andrebq/authopenid/internal/httpserver"
	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	var dir, cfg, bind, schedule string
	var sessionAge time.Duration
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP server with the OpenID login endpoints",
		Flags: []cli.Flag{
			cmdflags.Environment(&dir),
			cmdflags.Config(&cfg),
			&cli.StringFlag{
				Name:        "bind",
				Usage:       "Address to listen for requests, overrides server.bind from the config",
				EnvVars:     []string{"AUTHOPENID_BIND"},
				Destination: &bind,
			},
			&cli.StringFlag{
				Name:        "cleanup-schedule",
				Usage:       "Cron expression used to remove expired nonces, associations and sessions. Empty disables it",
				Value:       "@hourly",
				Destination: &schedule,
			},
			&cli.DurationFlag{
				Name:        "session-age",
				Usage:       "Sessions not visited for this long are removed by the scheduled cleanup",
				Value:       90 * 24 * time.Hour,
				Destination: &sessionAge,
			},
		},
		Action: func(ctx *cli.Context) error {
			log := logutil.GetOrDefault(ctx.Context)
			a, err := app.Open(ctx.Context, dir, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()
			needed, err := a.Env.NeedsUpgrade(ctx.Context)
			if err != nil {
				return err
			}
			if needed {
				return cli.Exit("environment needs an upgrade, run the upgrade command first", 2)
			}
			handler, err := a.Handler()
			if err != nil {
				return err
			}
			if schedule != "" {
				scheduler := cron.New()
				_, err = scheduler.AddFunc(schedule, func() {
					if err := a.Cleanup(ctx.Context, sessionAge); err != nil {
						log.Error().Err(err).Msg("Scheduled cleanup failed")
					}
				})
				if err != nil {
					return err
				}
				scheduler.Start()
				defer func() {
					<-scheduler.Stop().Done()
				}()
			}
			if bind == "" {
				bind = a.Env.Config().Server.Bind
			}
			return httpserver.Serve(ctx.Context, bind, handler)
		},
	}
}
