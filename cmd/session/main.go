// Package main starts the real-time session service and handles termination.
//
// The process is a coordination surface around live campaign sessions so the
// campaign site stays free of websocket and game-clock concerns.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	sessioncmd "github.com/cityofconcourse/concourse/internal/cmd/session"
)

func main() {
	cfg, err := sessioncmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SESSION] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sessioncmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
