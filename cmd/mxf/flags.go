package main

import "github.com/urfave/cli/v3"

var (
	logLevel  string
	dictPaths []string
)

// sharedFlags returns the registry and logging flags every subcommand
// takes. cli v3 scopes flags to the command they are declared on, so each
// subcommand splices these into its own Flags slice and the values land in
// the shared destinations above.
func sharedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level: debug|info|warn|error",
			Value:       "warn",
			Destination: &logLevel,
		},
		&cli.StringSliceFlag{
			Name:        "dict",
			Aliases:     []string{"d"},
			Usage:       "Extra YAML dictionary file(s) merged over the baseline registry",
			Destination: &dictPaths,
		},
	}
}
