// Package archive exports audit logs to S3-compatible object storage as
// JSON Lines, oldest entry first.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the part of *s3.Client the exporter needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LogLister is satisfied by *lifecycle.Engine.
type LogLister interface {
	ListLogs(ctx context.Context, f lifecycle.LogFilter) ([]models.Log, error)
}

const pageSize = 500

type Exporter struct {
	client PutObjectAPI
	logs   LogLister
	bucket string
	prefix string
}

func NewExporter(client PutObjectAPI, logs LogLister, bucket, prefix string) *Exporter {
	return &Exporter{client: client, logs: logs, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3Client builds a client from the default AWS credential chain.
// endpoint is optional and switches to path-style addressing (MinIO).
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type Result struct {
	Key   string `json:"key,omitempty"`
	Count int    `json:"count"`
}

// Key names the object holding logs in [from, to).
func (x *Exporter) Key(from, to time.Time) string {
	name := fmt.Sprintf("audit-%s-%s.jsonl", from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z"))
	if x.prefix == "" {
		return name
	}
	return x.prefix + "/" + name
}

// Export uploads every log in [from, to). An empty range uploads nothing.
func (x *Exporter) Export(ctx context.Context, from, to time.Time) (*Result, error) {
	if x.bucket == "" {
		return nil, fmt.Errorf("archive bucket not configured")
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("empty range: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	var all []models.Log
	for offset := 0; ; offset += pageSize {
		page, err := x.logs.ListLogs(ctx, lifecycle.LogFilter{From: from, To: to, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list logs: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	if len(all) == 0 {
		return &Result{}, nil
	}
	// listed newest first
	slices.Reverse(all)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range all {
		if err := enc.Encode(&all[i]); err != nil {
			return nil, fmt.Errorf("encode log %s: %w", all[i].ID, err)
		}
	}

	key := x.Key(from, to)
	_, err := x.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(x.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return nil, fmt.Errorf("put s3://%s/%s: %w", x.bucket, key, err)
	}
	return &Result{Key: key, Count: len(all)}, nil
}
