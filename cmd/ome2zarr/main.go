package main

import (
	"fmt"
	"os"

	"github.com/ome2zarr/bridge/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
