package main

// mlserver - Go implementation of gordo model server for local development
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/vkuznet/gordo-client/internal/mlserver"
	"github.com/vkuznet/gordo-client/pkg/logger"
)

// version of the code
var version string

// helper function to return version string of the server
func info() string {
	goVersion := runtime.Version()
	tstamp := time.Now().Format("2006-02-01")
	return fmt.Sprintf("gordo-mlserver git=%s go=%s date=%s", version, goVersion, tstamp)
}

func main() {
	var config string
	flag.StringVar(&config, "config", "", "configuration file")
	var version bool
	flag.BoolVar(&version, "version", false, "print version information about the server")
	flag.Parse()
	if version {
		fmt.Println(info())
		os.Exit(0)
	}
	cfg, err := mlserver.ParseConfig(config)
	if err != nil {
		log.Fatalf("unable to parse config %s, error %v\n", config, err)
	}
	zlog, err := logger.NewWithFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("unable to create logger, error %v\n", err)
	}
	if cfg.Verbose > 0 {
		zlog.Debug("configuration", "config", fmt.Sprintf("%+v", cfg))
	}

	store, err := mlserver.OpenStore(cfg)
	if err != nil {
		zlog.Fatal("unable to open model store", "error", err)
	}
	mlserver.SetVersion(info())
	srv, err := mlserver.New(cfg, store, zlog)
	if err != nil {
		zlog.Fatal("unable to create server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx); err != nil {
		zlog.Fatal("server failed", "error", err)
	}
}
