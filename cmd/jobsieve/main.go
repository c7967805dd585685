package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Best effort: a missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
