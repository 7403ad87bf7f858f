// Command intake-drain drains the intake queue once and exits.
package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/app"
)

func main() {
	_ = godotenv.Load()

	if err := app.RunDrainOnce(); err != nil {
		logrus.Fatalf("drain error: %v", err)
	}
}
