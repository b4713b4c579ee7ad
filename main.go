package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ftl/cogcal/core/cfg"
	"github.com/ftl/cogcal/ui/cli"
)

func main() {
	configuration, err := cfg.Load()
	if err != nil {
		logrus.WithError(err).Warn("no configuration file, using defaults")
		configuration = cfg.Static()
	}

	os.Exit(cli.Run(configuration, os.Args[1:]))
}
