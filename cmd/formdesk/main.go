// Package main starts the formdesk service process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	formdeskcmd "github.com/louisbranch/formdesk/internal/cmd/formdesk"
	"github.com/louisbranch/formdesk/internal/platform/config"
)

func main() {
	cfg, err := formdeskcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[FORMDESK] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := formdeskcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
