package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nightrift/nightrift/internal/model"
)

// s3Client is the narrow slice of the S3 API the uploader needs, kept as an
// interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Remote replicates artifacts to an S3-compatible bucket and applies the
// keep-count policy against the bucket's own listing.
type S3Remote struct {
	client s3Client
	bucket string
	prefix string
	logger *slog.Logger
}

func newS3Remote(sc model.StorageConfig, logger *slog.Logger) RemoteStore {
	opts := s3.Options{
		Region:       sc.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, ""),
		UsePathStyle: true,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if sc.Endpoint != "" {
		opts.BaseEndpoint = aws.String(sc.Endpoint)
	}
	return &S3Remote{
		client: s3.New(opts),
		bucket: sc.Bucket,
		prefix: sc.Prefix,
		logger: logger,
	}
}

func (r *S3Remote) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return path.Join(r.prefix, name)
}

// Upload pushes the artifact and returns an s3:// reference for the ledger.
func (r *S3Remote) Upload(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	key := r.key(name)
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	r.logger.Info("artifact uploaded", "bucket", r.bucket, "key", key, "size_bytes", stat.Size())
	return fmt.Sprintf("s3://%s/%s", r.bucket, key), nil
}

// Prune deletes remote copies beyond the keep count, newest first by the
// object store's own last-modified timestamps.
func (r *S3Remote) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}

	var objects []types.Object
	var continuation *string
	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.bucket),
			Prefix:            aws.String(r.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("list remote backups: %w", err)
		}
		objects = append(objects, out.Contents...)
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	if len(objects) <= keep {
		return nil
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(*objects[j].LastModified)
	})

	for _, obj := range objects[keep:] {
		_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    obj.Key,
		})
		if err != nil {
			r.logger.Warn("delete remote backup", "key", aws.ToString(obj.Key), "error", err)
			continue
		}
		r.logger.Info("pruned remote backup", "key", aws.ToString(obj.Key))
	}
	return nil
}
