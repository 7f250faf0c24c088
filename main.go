package main

import (
	"log"
	"os"

	"github.com/d7561985/invest-ledger/cmd/load"
	"github.com/d7561985/invest-ledger/cmd/serve"
	"github.com/urfave/cli/v2" // imports as package "cli"
)

func main() {
	app := &cli.App{
		Name:  "invest-ledger",
		Usage: "Passive investment account ledger",
		Commands: []*cli.Command{
			serve.New(),
			load.New(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
