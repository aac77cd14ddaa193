package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-sphere/confstore"
	"github.com/go-sphere/confstore/codec"
	"github.com/go-sphere/confstore/provider"
	fileprovider "github.com/go-sphere/confstore/provider/file"
	httpprovider "github.com/go-sphere/confstore/provider/http"
	"golang.org/x/sync/errgroup"
)

const gatewayVersion = "1.0.0"

func main() {
	confPath := flag.String("config", defaultConfigPath(), "path or URL of the gateway config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(gatewayVersion)
		return
	}

	config, err := loadConfig(*confPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !config.Proxy.Enabled.OrElse(true) {
		log.Printf("proxy is disabled in config, nothing to do")
		return
	}
	if err := run(config); err != nil {
		log.Fatalf("%v", err)
	}
}

func loadConfig(path string) (*Config, error) {
	config, err := confstore.Load[Config](newConfigProvider(path), codec.JsonCodec())
	if err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func newConfigProvider(path string) provider.Provider {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return httpprovider.New(path)
	}
	return fileprovider.New(path)
}

func run(config *Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewUpstreamPool(newUpstreamClient)
	defer pool.Shutdown()

	var eg errgroup.Group
	for _, upstream := range config.Upstreams {
		upstreamCopy := upstream
		eg.Go(func() error {
			log.Printf("<%s> Connecting", upstreamCopy.Name)
			if err := pool.AddUpstream(ctx, upstreamCopy); err != nil {
				log.Printf("<%s> Failed to connect: %v", upstreamCopy.Name, err)
				if upstreamCopy.Options.PanicIfInvalid.OrElse(false) {
					return err
				}
				return nil
			}
			log.Printf("<%s> Connected", upstreamCopy.Name)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("initialize upstreams: %w", err)
	}

	startHealthLoops(ctx, pool, config.Upstreams)

	catalog := NewCatalog(pool, config.Proxy.ConflictStrategy)
	router := NewRouter(pool, catalog)
	gate := NewRuleGate(config.Proxy.Security)

	server := NewProxyServer(config.Proxy, catalog, router, gate)
	if err := server.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutdown signal received")
	return server.Stop()
}
