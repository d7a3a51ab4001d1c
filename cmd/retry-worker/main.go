package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/flowhook/reactor/retryworker"
)

func main() {
	_ = godotenv.Load()

	if err := retryworker.Run(); err != nil {
		os.Exit(1)
	}
}
