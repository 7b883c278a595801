package report

import (
	"bytes"
	"context"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mchallet/stagesync/internal/config"
	"github.com/mchallet/stagesync/internal/errs"
)

// Archiver uploads each run's JSON report to object storage, so run
// history survives log rotation on the migration host.
// It is safe for concurrent use by multiple goroutines.
type Archiver struct {
	client *miniogo.Client
	bucket string
}

// NewArchiver connects to the object store and makes sure the report
// bucket exists.
func NewArchiver(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "cannot create object store client", err)
	}

	a := &Archiver{client: client, bucket: cfg.Bucket}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "cannot reach object store", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, errs.Wrap(errs.ErrKindConnectionFailed, "cannot create report bucket", err)
		}
	}
	return a, nil
}

// Upload stores the report under a timestamped key and returns the key.
func (a *Archiver) Upload(ctx context.Context, r *RunReport) (string, error) {
	payload, err := r.JSON()
	if err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, "cannot marshal run report", err)
	}

	key := fmt.Sprintf("reports/%s/%s.json",
		r.StartedAt.Format("2006-01-02"),
		r.StartedAt.Format("150405"))

	_, err = a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		miniogo.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, "report upload failed", err)
	}
	return key, nil
}
