package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"voxline-server-golang/internal/app/server"
	"voxline-server-golang/internal/domain/config"
	log "voxline-server-golang/logger"
)

func main() {
	configFile := flag.String("c", "config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.Init(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx)
	if err != nil {
		log.Errorf("init server: %v", err)
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}
