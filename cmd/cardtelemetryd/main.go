// Command cardtelemetryd serves the card telemetry/control wire
// protocol over a local admin socket.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"cardtelemetryd/internal/config"
	"cardtelemetryd/internal/daemon"
)

func main() {
	args := config.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := config.ParseLogLevel(args.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.WithError(err).Warn("main: falling back to info log level")
	}

	d, err := daemon.New(daemon.Config{
		SocketPath: args.SocketPath,
		I2CBus:     args.I2CBus,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("main: daemon init failed")
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.WaitForSignal(ctx, cancel, log)

	log.WithFields(logrus.Fields{
		"socket": args.SocketPath,
		"i2cBus": args.I2CBus,
	}).Info("main: cardtelemetryd starting")

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Error("main: daemon exited with error")
		os.Exit(1)
	}
	log.Info("main: cardtelemetryd stopped")
}
