package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (yaml or toml)")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	concurrency := flag.Int("concurrency", 0, "recordings validated in parallel per request (0 uses all CPUs)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			common.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	closer, err := common.SetupLogging(cfg.Rotation("edfd.log"))
	if err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	opts, err := server.OptionsFromConfig(cfg)
	if err != nil {
		common.Fatalf("server options: %v", err)
	}
	opts.Concurrency = *concurrency
	srv, err := server.NewServer(opts)
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	common.Logf("edfd listening on %s (rule pack %s@%s)", listenAddr, opts.RulePack.RulePackId, opts.RulePack.Version)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		common.Logf("shutdown: %v", err)
	}
	common.Logf("edfd stopped")
}
