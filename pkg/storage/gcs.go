package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/Gobusters/ectologger"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

// GCS is an ObjectStore over one Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	logger ectologger.Logger
}

func NewGCS(ctx context.Context, bucket string, logger ectologger.Logger, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		logger: logger,
	}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// Ping checks the bucket is reachable.
func (g *GCS) Ping(ctx context.Context) error {
	_, err := g.bucket.Attrs(ctx)
	return err
}

func (g *GCS) List(ctx context.Context) ([]Object, error) {
	ctx, span := tracing.StartSpan(ctx, "GCS.List")
	defer span.End()

	var objects []Object
	it := g.bucket.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, fmt.Errorf("failed to list bucket %s: %w", g.name, err)
		}
		objects = append(objects, Object{Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	return objects, nil
}

func (g *GCS) Download(ctx context.Context, name string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "GCS.Download")
	defer span.End()

	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func (g *GCS) Move(ctx context.Context, name, dest string) error {
	ctx, span := tracing.StartSpan(ctx, "GCS.Move")
	defer span.End()

	src := g.bucket.Object(name)
	if _, err := g.bucket.Object(dest).CopierFrom(src).Run(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to copy %s to %s: %w", name, dest, err)
	}
	if err := src.Delete(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	g.logger.WithContext(ctx).Infof("Moved %s to %s", name, dest)
	return nil
}

func (g *GCS) Upload(ctx context.Context, name string, data []byte) error {
	ctx, span := tracing.StartSpan(ctx, "GCS.Upload")
	defer span.End()

	w := g.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", name, err)
	}
	return nil
}
