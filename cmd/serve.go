package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/korimako/fieldtest/internal/fakeserver"
	"github.com/urfave/cli/v3"
)

// Serve runs the in-memory recordings server until interrupted. State lives
// for the lifetime of the process only.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")

	server := &http.Server{
		Addr:              addr,
		Handler:           fakeserver.New(os.Stderr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	r.logger.Info("serving in-memory recordings API", "addr", addr)
	r.writePlain("Listening on http://%s\n", addr)
	r.writePlain("Point config api.server_url and api.processing_url here.\n")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
