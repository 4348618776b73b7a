package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/asset"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend/general"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend/rag"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/bridge"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/config"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/router"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/server"
)

const serveUsage = `Usage:
  vss-bridge serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	ragAdapter, err := rag.New(cfg.Backends.RAG, backend.NewHTTPClient(time.Duration(cfg.Backends.RAG.TimeoutSeconds)*time.Second))
	if err != nil {
		return fmt.Errorf("initialise rag backend: %w", err)
	}

	generalAdapter, err := general.New(cfg.Backends.General, backend.NewHTTPClient(time.Duration(cfg.Backends.General.TimeoutSeconds)*time.Second))
	if err != nil {
		return fmt.Errorf("initialise general backend: %w", err)
	}

	resolver := asset.NewResolver(cfg.Backends.RAG.AssetIDFile, cfg.Backends.RAG.AssetID)
	rt := router.New(cfg.Routing.RAGKeywords)
	br := bridge.New(resolver, rt, ragAdapter, generalAdapter)

	srv, err := server.New(cfg, br)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
