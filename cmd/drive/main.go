package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pyropy/drive/lib/logger"
)

var log, _ = logger.New("drive")

func main() {
	app := &cli.App{
		Name:  "drive",
		Usage: "Store arbitrary size files as bounded, deduplicated parts",
		Commands: []*cli.Command{
			uploadCmd,
			downloadCmd,
			listCmd,
			removeCmd,
			sweepCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalw("command failed", "error", err)
	}
}
