package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the facesnap HTTP API.
The API assigns faces to clusters, verifies query faces, lists clusters
and recorded faces for galleries, and allows tuning the clustering policy
at runtime.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var index *database.FaceIndex
	if cfg.Index.Enabled {
		index = database.NewFaceIndex()
		log.Info().Msg("face similarity index enabled, events are indexed on first search")
	}
	search := database.NewFaceSearch(store, index)

	engine, err := clustering.New(store, policyFromConfig(cfg.Policy),
		clustering.WithFaceObserver(func(face database.FaceRecord) {
			if err := search.Observe(face); err != nil {
				log.Warn().Err(err).Str("event_id", face.EventID).Str("face_id", face.ID).Msg("failed to index face")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	server := web.NewServer(cfg, engine, store, search)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	p := engine.Policy()
	log.Info().
		Str("store", cfg.Store.Backend).
		Int("dimension", p.Dimension).
		Float64("similarity_threshold", p.SimilarityThreshold).
		Msg("facesnap API ready")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
