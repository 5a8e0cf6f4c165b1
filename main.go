package main

import (
	"os"

	"github.com/lintang-b-s/pagedb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
