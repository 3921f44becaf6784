// Command serialoscd bridges a monome grid controller attached at a serial
// device path to OSC clients over UDP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/monome/serialoscd/internal/bridge"
	"github.com/monome/serialoscd/internal/hardware"
	"github.com/monome/serialoscd/serialport"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("serialoscd", flag.ContinueOnError)
	debug := fs.Bool("d", false, "enable verbose debug logging")
	fs.BoolVar(debug, "debug", false, "enable verbose debug logging")
	showVersion := fs.Bool("V", false, "print version and exit")
	fs.BoolVar(showVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [-d] [-V] <tty-path>\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0 // flag already printed usage for -h/--help
		}
		return 1
	}
	if *showVersion {
		fmt.Println("serialoscd", version)
		return 0
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	ttyPath := fs.Arg(0)
	if _, err := os.Stat(ttyPath); err != nil {
		fmt.Fprintf(os.Stderr, "serialoscd: %s: %v\n", ttyPath, err)
		return 1
	}

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log).WithField("tty", ttyPath)

	port, err := serialport.OpenGrid(ttyPath)
	if err != nil {
		entry.WithError(err).Error("failed to open serial device")
		return 2
	}
	defer port.Close()

	framer := hardware.NewFramer(port, entry)
	ctrl := bridge.NewController(framer, entry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.Info("serialoscd starting")
	if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
		entry.WithError(err).Error("fatal bridge error")
		return 3
	}
	entry.Info("serialoscd shutting down")
	return 0
}
