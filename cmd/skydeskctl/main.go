// skydeskctl - command-line client for the Skydesk support platform
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/skydesk/internal/cli"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, version)
	stop()
	os.Exit(code)
}
