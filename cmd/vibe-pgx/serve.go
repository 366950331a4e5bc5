package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vibe-pgx/internal/server"
)

func newServeCmd() *cobra.Command {
	defaults := server.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis API",
		Long: `Serve the analysis API:

  POST /api/v1/analyze        multipart upload (vcf_file, drugs)
  GET  /api/v1/drugs          registered drugs
  GET  /api/v1/genes          registered genes
  GET  /api/v1/genes/:symbol  alleles and diplotype table for one gene
  GET  /health                liveness and knowledge base version`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			analyzer, err := newAnalyzer(s)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("knowledge base ready",
				zap.String("version", analyzer.KnowledgeBase().Version()),
				zap.String("source", analyzer.KnowledgeBase().Source()))
			return server.New(s.Server, analyzer, logger).Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("host", defaults.Host, "Listen address")
	f.Int("port", defaults.Port, "Listen port")
	f.Int64("max-upload", defaults.MaxUploadBytes, "Maximum VCF upload size in bytes")
	f.Bool("debug", defaults.Debug, "Run gin in debug mode")

	_ = viper.BindPFlag("server.host", f.Lookup("host"))
	_ = viper.BindPFlag("server.port", f.Lookup("port"))
	_ = viper.BindPFlag("server.max_upload_bytes", f.Lookup("max-upload"))
	_ = viper.BindPFlag("server.debug", f.Lookup("debug"))

	return cmd
}
