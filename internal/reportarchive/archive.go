// Package reportarchive copies run reports to S3 when a bucket is configured.
package reportarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reportarchive",
	fx.Provide(Provide),
)

// Archiver stores one JSON report per run.
type Archiver interface {
	Put(ctx context.Context, job, mode, jobID string, report any) error
}

// Key is the object key of a report.
func Key(job, mode, jobID string) string {
	return fmt.Sprintf("reports/%s/%s/%s.json", job, mode, jobID)
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client putter
	bucket string
}

func NewS3Archiver(client *s3.Client, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

func (a *S3Archiver) Put(ctx context.Context, job, mode, jobID string, report any) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(job, mode, jobID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put report %s: %w", Key(job, mode, jobID), err)
	}
	return nil
}

type nopArchiver struct{}

func (nopArchiver) Put(context.Context, string, string, string, any) error { return nil }

// Nop discards reports.
func Nop() Archiver { return nopArchiver{} }

// Provide returns the S3 archiver when REPORT_ARCHIVE_BUCKET is set and a
// no-op archiver otherwise.
func Provide(cfg config.Config, log *zap.Logger) (Archiver, error) {
	if cfg.Archive.Bucket == "" {
		return Nop(), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Archive.Region))
	if err != nil {
		return nil, err
	}
	log.Named("reportarchive").Info("report archive enabled",
		zap.String("bucket", cfg.Archive.Bucket),
		zap.String("region", cfg.Archive.Region),
	)
	return NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.Archive.Bucket), nil
}
