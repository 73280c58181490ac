// Package logs owns the logging configuration for the atlasexplorer CLI.
//
// All packages log through logrus. Log related flags are registered on the
// root command's persistent flag set and applied once, before any subcommand
// runs.
package logs

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	logLevel  = "info"
	logFormat = "text"
)

// AddFlags adds log related flags to the supplied flag set.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&logLevel, "log-level", logLevel, "Sets the log level. Permitted values: trace, debug, info, warning, error.")
	fs.StringVar(&logFormat, "log-format", logFormat, `Sets the log format. Permitted formats: "json", "text".`)
}

// Initialize applies the configured level and format to the global logrus
// logger. It must be called before any log output is produced.
func Initialize() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("error in logging configuration: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(logFormat) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("error in logging configuration: unknown format %q", logFormat)
	}

	return nil
}
