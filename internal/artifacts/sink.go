// Package artifacts keeps a JSON record of every generation run (the raw post
// pool, the model's picks and the drafted comments) on local disk or in S3.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/reddit"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Run is the persisted record of one generation.
type Run struct {
	RunID       string            `json:"run_id"`
	OwnerID     string            `json:"owner_id"`
	ProductID   string            `json:"product_id"`
	Trigger     string            `json:"trigger"`
	StartedAt   time.Time         `json:"started_at"`
	Subreddits  []string          `json:"subreddits"`
	Posts       []reddit.Post     `json:"posts"`
	SelectedIDs []string          `json:"selected_ids"`
	Comments    map[string]string `json:"comments"`
	Scheduled   int               `json:"scheduled"`
}

// Sink writes runs under <prefix><owner>/<run-id>.json. A nil *Sink discards runs.
type Sink struct {
	up     uploader
	prefix string
}

// New picks S3 when ARTIFACT_S3_BUCKET is set, a local directory when
// ARTIFACT_DIR is set, and returns a nil Sink otherwise.
func New(ctx context.Context, cfg config.Config) (*Sink, error) {
	if cfg.ArtifactS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Sink{up: &s3Uploader{client: client, bucket: cfg.ArtifactS3Bucket}, prefix: cfg.ArtifactS3Prefix}, nil
	}
	if cfg.ArtifactDir != "" {
		return &Sink{up: &localUploader{baseDir: cfg.ArtifactDir}}, nil
	}
	return nil, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArtifactS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArtifactS3Endpoint != "" {
			// S3-compatible stores (MinIO, R2) need path-style addressing.
			o.BaseEndpoint = aws.String(cfg.ArtifactS3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Write stores run and returns its location.
func (s *Sink) Write(ctx context.Context, run Run) (string, error) {
	if s == nil {
		return "", nil
	}
	body, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run: %w", err)
	}
	key := sanitizeKey(s.prefix + run.OwnerID + "/" + run.RunID + ".json")
	loc, err := s.up.Upload(ctx, key, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("upload run %s: %w", run.RunID, err)
	}
	return loc, nil
}

func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	key = strings.TrimPrefix(key, "/")
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
