// conf is a helper for wifibench configuration from both the command line
// interface and environment variables.
// It gives the ability to register options which will be fetched from
// CLI input OR an environment variable.
// By default it registers the following option:
// <WIFIBENCH_LOG> -l --log <Log level: debug, info, warn, error, fatal, panic> Default: info
//
// When `ParseEnv` is executed, only the environment arguments are parsed and
// ready to be used in the flag variables. `ParseEnv` can be run multiple times.
//
// When `ParseFlags` is executed, the arguments from both CLI and Env are
// parsed and the selected subcommand (if any) is returned.
package conf

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("wifibench", "WLAN matrix benchmark orchestrator")

	// Default flags and values.
	logLevelFlag = NewStringFlag(
		"log",
		"Log level: debug, info, warn, error, fatal, panic",
		"info",
	)
	isEnvParsed = false
)

// SetHelp sets the help message for the CLI.
// We need to expose this function so other packages can set the app help.
func SetHelp(help string) {
	app.Help = help
}

// SetAppName sets application name for CLI output.
// We need to expose this function so other packages can set the app name.
func SetAppName(name string) {
	app.Name = name
}

// AppName returns specified app name.
func AppName() string {
	return app.Name
}

// NewCommand registers a kingpin subcommand on the application.
// The selected command name is returned from ParseFlags.
func NewCommand(name string, help string) *kingpin.CmdClause {
	return app.Command(name, help)
}

// LogLevel returns configured logLevel from input option or env variable.
// If it cannot parse the configured level, it falls back to the default.
func LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(logLevelFlag.Value())
	if err == nil {
		return level
	}

	level, err = logrus.ParseLevel(logLevelFlag.defaultValue)
	if err == nil {
		return level
	}

	// Programmer error.
	panic(errors.Wrap(err, "parsing log level failed"))
}

// ParseFlags parses both the command line flags of the process and
// environment variables. It returns the name of the selected subcommand,
// or an empty string when no subcommands were registered.
func ParseFlags() (string, error) {
	command, err := app.Parse(os.Args[1:])
	if err == nil {
		isEnvParsed = true
		return command, nil
	}

	return "", errors.Wrapf(err, "could not parse command line flags")
}

// ParseEnv parses the environment for arguments.
func ParseEnv() error {
	_, err := app.Parse([]string{})
	if err == nil {
		isEnvParsed = true
		return nil
	}

	return errors.Wrapf(err, "could not parse environment flags")
}
