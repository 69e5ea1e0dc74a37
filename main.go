package main

import (
	"os"

	"github.com/scan-io-git/vulnimpact/cmd"
)

func main() {
	code := cmd.Execute()
	os.Exit(code)
}
