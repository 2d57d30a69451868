// cmd/recorder/main.go runs the asynchronous match recorder: it drains the
// Redis match-result queue into PostgreSQL and applies rating updates.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jklund/partyline/internal/recorder"
)

func main() {
	svc := recorder.NewService()
	go svc.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	svc.Stop()
	log.Println("Recorder shutdown complete.")
}
