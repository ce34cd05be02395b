package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "messenger-service",
		Usage: "Direct messaging API with real-time delivery",
		Commands: []*cli.Command{
			serveCommand,
			migrateCommand,
			encryptLegacyCommand,
			keygenCommand,
			tokenCommand,
			watchCommand,
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
