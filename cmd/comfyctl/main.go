// Package main is the entry point for the comfyctl CLI.
// The CLI is the terminal tool for talking to a comfyguard supervisor.
package main

import (
	"os"

	"comfyguard/cmd/comfyctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
