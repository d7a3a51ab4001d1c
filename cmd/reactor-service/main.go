package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/flowhook/reactor/reactorservice"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	if err := reactorservice.Run(); err != nil {
		os.Exit(1)
	}
}
