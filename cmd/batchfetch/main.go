package main

import (
	"os"

	"batchfetch/cmd/batchfetch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
