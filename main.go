package main

import (
	"os"

	"github.com/wsaxqd/home-work2-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
