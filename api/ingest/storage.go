package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	kpiDefaultBucket  = "fieldops-kpi"
	kpiDefaultRegion  = "us-east-1"
	kpiDefaultBaseURL = "https://fieldops-kpi.s3.us-east-1.amazonaws.com/"
)

func kpiBucket() string {
	if b := strings.TrimSpace(os.Getenv("KPI_S3_BUCKET")); b != "" {
		return b
	}
	return kpiDefaultBucket
}

func kpiRegion() string {
	if r := strings.TrimSpace(os.Getenv("KPI_S3_REGION")); r != "" {
		return r
	}
	return kpiDefaultRegion
}

func kpiBaseURL() string {
	if u := strings.TrimSpace(os.Getenv("KPI_S3_BASE_URL")); u != "" {
		u = strings.TrimSuffix(u, "/")
		return u + "/"
	}
	return kpiDefaultBaseURL
}

func sanitizePathSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return replacer.Replace(s)
}

func detectContentType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	if len(data) > 512 {
		return http.DetectContentType(data[:512])
	}
	return http.DetectContentType(data)
}

// StoredObject is one object listed under a prefix.
type StoredObject struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ObjectStore is the put/get/list/delete capability the pipeline stages use
// for raw files, JSONL extracts and commit manifests. The production binding
// is S3; tests use an in-memory store.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// S3ObjectStore binds ObjectStore to an S3 bucket, with bucket/region/base
// URL overridable via KPI_S3_* env vars.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
}

func NewS3ObjectStore(ctx context.Context) (*S3ObjectStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(kpiRegion()))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3ObjectStore{client: s3.NewFromConfig(cfg), bucket: kpiBucket()}, nil
}

func (s *S3ObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = detectContentType(body)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3 (bucket %s, key %s): %w", s.bucket, key, err)
	}
	return kpiBaseURL() + key, nil
}

func (s *S3ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch from s3 (bucket %s, key %s): %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3ObjectStore) List(ctx context.Context, prefix string) ([]StoredObject, error) {
	var objects []StoredObject
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, StoredObject{
				Name: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

func (s *S3ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete from s3 (bucket %s, key %s): %w", s.bucket, key, err)
	}
	return nil
}

// uploadPrefix is where the Upload Stage parks an upload set's raw files.
func uploadPrefix(sourceSystem, anchor, uploadSetID string) string {
	return fmt.Sprintf("%s/%s/%s/", sanitizePathSegment(sourceSystem), anchor, uploadSetID)
}

// commitPrefix is where the Commit Stage writes JSONL extracts and the
// manifest. It is fixed per upload set so re-commits overwrite in place.
func commitPrefix(sourceSystem, anchor, uploadSetID string) string {
	return uploadPrefix(sourceSystem, anchor, uploadSetID) + "commit/"
}
