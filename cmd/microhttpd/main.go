//go:build linux

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/microhttpd/app"
	"github.com/searchktools/microhttpd/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed")
	}
	if err := application.Run(); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}
