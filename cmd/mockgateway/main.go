// Command mockgateway serves an in-memory Jupyter gateway emulator: the
// kernel and terminal REST APIs, kernel channel WebSockets with scriptable
// echo behavior, terminal WebSockets and an optional directory-backed
// contents API. It exists for developing and testing gateway clients without
// a real kernel runtime.
package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/remote-notebook/kernelclient/internal/gatewaymock"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "listen address (overrides the config file)")
	token := flag.String("token", "", "require this auth token (overrides the config file)")
	contentsRoot := flag.String("contents", "", "serve the contents API from this directory (overrides the config file)")
	flag.Parse()

	cfg := defaultServerConfig()
	if *configPath != "" {
		loaded, err := loadServerConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *contentsRoot != "" {
		cfg.ContentsRoot = *contentsRoot
	}

	mock := gatewaymock.New(gatewaymock.Config{
		Token:        cfg.Token,
		ContentsRoot: cfg.ContentsRoot,
	})

	server := &http.Server{Addr: cfg.Addr, Handler: mock.Router()}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock gateway...")
		mock.Close()
		server.Close()
	}()

	log.Printf("Starting mock gateway on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start mock gateway: %v", err)
	}
}
