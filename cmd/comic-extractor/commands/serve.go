package commands

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/spherical/comic-extractor/internal/api"
	"github.com/spherical/comic-extractor/pkg/comiccore"
)

var (
	serveNoDetect bool
	serveNoOCR    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the comic core over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoDetect, "no-detect", false, "do not load a detection model")
	serveCmd.Flags().BoolVar(&serveNoOCR, "no-ocr", false, "do not start an OCR engine")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	var interp *comiccore.Interpreter
	if !serveNoDetect {
		if interp, err = core.InitInterpreterFromAsset(""); err != nil {
			return err
		}
		defer interp.Close()
	}
	var engine *comiccore.OCRHandle
	if !serveNoOCR {
		if engine, err = core.InitOCR(); err != nil {
			return err
		}
		defer comiccore.CloseOCR(engine)
	}

	stopWatch, err := core.WatchInvalidations(ctx, func(hashHex string) {
		logger.Info().Str("hash", hashHex).Msg("Book invalidated")
	})
	if err != nil {
		return err
	}
	defer stopWatch()

	if len(cfg.Server.LibraryRoots) == 0 && !isLoopback(cfg.Server.Host) {
		logger.Warn().Str("host", cfg.Server.Host).
			Msg("No library roots configured; any readable path can be requested")
	}
	server := api.NewServer(core, interp, engine, logger, api.WithLibraryRoots(cfg.Server.LibraryRoots...))
	addr := cfg.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(server, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info().
		Str("addr", addr).
		Str("catalog", cfg.Catalog.Driver).
		Str("cache", cfg.Cache.Driver).
		Bool("detect", interp != nil).
		Bool("ocr", engine != nil).
		Msg("Starting comic-extractor API")

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
