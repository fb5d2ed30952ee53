package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/proxy"
)

var (
	servePort     int
	serveUpstream string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an Ollama-compatible API with skill dispatch",
	Long: `Starts a drop-in replacement for the Ollama API. Requests to
/api/generate and /api/chat run skill dispatch first, fold whatever the
skills printed into the prompt, and forward to the upstream server.
Everything an Ollama client expects (including streaming) keeps working.

Activation votes go to the upstream server using the analysis model.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	upstreamURL := serveUpstream
	if upstreamURL == "" {
		upstreamURL = cfg.Proxy.Upstream
	}
	port := servePort
	if port == 0 {
		port = cfg.Proxy.Port
	}

	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch, err := rt.startWatcher(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	upstream := ollamaClient(upstreamURL, cfg.Gateway.Model)
	votes := ollamaClient(upstreamURL, voteModel())
	eng := newEngine(votes, rt)

	srv := proxy.New(upstream, eng, rt.registry, logger)
	fmt.Printf("skill proxy on http://localhost:%d -> %s (%d skills)\n",
		port, upstreamURL, rt.registry.Count())
	return srv.Serve(ctx, fmt.Sprintf(":%d", port))
}
