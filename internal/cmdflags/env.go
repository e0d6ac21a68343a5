package cmdflags

import (
	"github.com/urfave/cli/v2"
)

func Environment(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "env",
		Aliases:     []string{"e"},
		Usage:       "Directory holding the environment database",
		EnvVars:     []string{"AUTHOPENID_ENV"},
		Destination: out,
		Value:       *out,
		Required:    true,
	}
}

func Config(out *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to a yaml config file, defaults are used when empty",
		EnvVars:     []string{"AUTHOPENID_CONFIG"},
		Destination: out,
		Value:       *out,
	}
}

func LogLevel(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = "info"
	}
	return &cli.StringFlag{
		Name:        "log-level",
		Usage:       "Minimum level of log messages (trace, debug, info, warn, error)",
		EnvVars:     []string{"AUTHOPENID_LOG_LEVEL"},
		Destination: out,
		Value:       *out,
	}
}

func PrettyLog(out *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "pretty-log",
		Usage:       "Write human friendly logs instead of JSON lines",
		EnvVars:     []string{"AUTHOPENID_PRETTY_LOG"},
		Destination: out,
		Value:       *out,
	}
}
