package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taxidash/taxidash/internal/app"
	"github.com/taxidash/taxidash/internal/config"
	"github.com/taxidash/taxidash/internal/storage"
)

var (
	publishPrefix string
	publishDryRun bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the local data directory to the configured S3 source",
	Long: `Upload every parquet file under the local data directory to the
bucket named by source.s3, keeping the data/<category>/ layout so that a
server configured with source.type=s3 finds the same months.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishPrefix, "prefix", "data", "local prefix to publish")
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "list the files without uploading")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Source.S3.Bucket == "" {
		return fmt.Errorf("source.s3.bucket is required to publish")
	}
	ctx := cmd.Context()

	local, err := storage.NewLocalStorage(cfg.DataDir)
	if err != nil {
		return err
	}
	objects, err := local.ListObjects(ctx, publishPrefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", publishPrefix, err)
	}

	s3Source := cfg.Source
	s3Source.Type = config.SourceS3
	target, err := app.NewSource(ctx, s3Source)
	if err != nil {
		return err
	}
	writer, ok := target.(storage.ObjectWriter)
	if !ok {
		return fmt.Errorf("source %s cannot be published to", s3Source.Type)
	}

	var published int
	for _, obj := range objects {
		if !strings.HasSuffix(obj, ".parquet") {
			continue
		}
		if publishDryRun {
			fmt.Fprintln(cmd.OutOrStdout(), obj)
			continue
		}
		localPath := filepath.Join(cfg.DataDir, filepath.FromSlash(obj))
		if err := writer.Upload(ctx, localPath, obj); err != nil {
			return fmt.Errorf("upload %s: %w", obj, err)
		}
		published++
		logger.Info("object published", "object", obj, "bucket", cfg.Source.S3.Bucket)
	}
	logger.Info("publish complete", "objects", published)
	return nil
}
