// Package main provides the entry point for the careline CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/careline-ai/careline/cmd/careline/commands"
)

func main() {
	// A .env in the working directory supplies provider keys and
	// CARELINE_* overrides; absence is fine.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
