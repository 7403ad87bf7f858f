package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/app"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
