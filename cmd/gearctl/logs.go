package main

import (
	"context"
	"fmt"
	"time"

	"gear_checkout/archive"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsArchiveCmd)

	logsArchiveCmd.Flags().String("from", "", "start of the range, RFC 3339 or YYYY-MM-DD (inclusive)")
	logsArchiveCmd.Flags().String("to", "", "end of the range, RFC 3339 or YYYY-MM-DD (exclusive, default now)")
	logsArchiveCmd.Flags().String("endpoint", "", "custom S3 endpoint, e.g. a MinIO URL")
	_ = logsArchiveCmd.MarkFlagRequired("from")
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Work with the audit log",
}

var logsArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export audit logs in a time range to S3 as JSON Lines",
	RunE:  runLogsArchive,
}

func runLogsArchive(cmd *cobra.Command, args []string) error {
	fromS, _ := cmd.Flags().GetString("from")
	toS, _ := cmd.Flags().GetString("to")
	endpoint, _ := cmd.Flags().GetString("endpoint")

	from, err := parseWhen(fromS)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to := time.Now().UTC()
	if toS != "" {
		if to, err = parseWhen(toS); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}

	return withEnv(func(ctx context.Context, e *env) error {
		if e.cfg.ArchiveBucket == "" {
			return fmt.Errorf("ARCHIVE_BUCKET is not set")
		}
		client, err := archive.NewS3Client(ctx, e.cfg.AWSRegion, endpoint)
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		x := archive.NewExporter(client, e.engine, e.cfg.ArchiveBucket, e.cfg.ArchivePrefix)
		res, err := x.Export(ctx, from, to)
		if err != nil {
			return err
		}
		return printJSON(res)
	})(cmd, args)
}

func parseWhen(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
