// Package logstore provides append-only, time-pruned object storage for
// run logs and checkpoint history snapshots, backed by an S3-compatible
// object store.
package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Record is a single structured log event.
type Record struct {
	RunID       string `json:"runId"`
	DatasetSlug string `json:"datasetSlug"`
	Op          string `json:"op"`
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	Seq         int64  `json:"seq"`
	At          string `json:"at"`
}

// Store abstracts append-only log storage used for run event logs and
// checkpoint history snapshots.
type Store interface {
	CreateTable(ctx context.Context, table string) error
	Append(ctx context.Context, table, runID string, records []Record) (string, error)
	WriteSnapshot(ctx context.Context, table, runID string, snapshot []byte) (string, error)
	Prune(ctx context.Context, table string, retentionDays int) error
	ListPaths(ctx context.Context, prefix string) ([]string, error)
}

// objectBackend is the minimal object-store surface this package depends
// on; MinioStore adapts a real *minio.Client, LocalStore adapts a plain
// directory tree for tests and offline development.
type objectBackend interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// MinioStore implements Store against an S3-compatible object store.
type MinioStore struct {
	backend    objectBackend
	bucket     string
	basePrefix string
}

// NewMinioStoreFromEnv builds a log store from LOGSTORE_*/MINIO_* env vars,
// falling back to a local directory store when no MinIO endpoint is set.
func NewMinioStoreFromEnv() (*MinioStore, error) {
	bucket := getenv("LOGSTORE_BUCKET", "logstore")
	prefix := getenv("LOGSTORE_PREFIX", "logs")

	endpoint := getenv("MINIO_ENDPOINT", "")
	access := getenv("MINIO_ACCESS_KEY", "")
	secret := getenv("MINIO_SECRET_KEY", "")
	useSSL := getenv("MINIO_USE_SSL", "false") == "true"

	var backend objectBackend
	if endpoint != "" && access != "" && secret != "" {
		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(access, secret, ""),
			Secure: useSSL,
		})
		if err != nil {
			return nil, err
		}
		backend = &minioBackend{client: client}
	} else {
		backend = newLocalStore(filepath.Join(os.TempDir(), "logstore"))
	}
	return &MinioStore{backend: backend, bucket: bucket, basePrefix: prefix}, nil
}

// NewMinioStore builds a log store against a caller-supplied backend,
// mainly for tests substituting an in-memory double.
func NewMinioStore(backend objectBackend, bucket, basePrefix string) *MinioStore {
	if basePrefix == "" {
		basePrefix = "logs"
	}
	return &MinioStore{backend: backend, bucket: bucket, basePrefix: basePrefix}
}

func (s *MinioStore) CreateTable(ctx context.Context, table string) error {
	if err := s.backend.EnsureBucket(ctx, s.bucket); err != nil {
		return err
	}
	return s.backend.PutObject(ctx, s.bucket, s.path(table, "._init"), []byte("init"))
}

func (s *MinioStore) Append(ctx context.Context, table, runID string, records []Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	if err := s.backend.EnsureBucket(ctx, s.bucket); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	key := s.path(table, fmt.Sprintf("%s-%d.jsonl", runID, stableSeq(records)))
	if err := s.backend.PutObject(ctx, s.bucket, key, buf.Bytes()); err != nil {
		return "", err
	}
	return fmt.Sprintf("minio://%s/%s", s.bucket, key), nil
}

func (s *MinioStore) WriteSnapshot(ctx context.Context, table, runID string, snapshot []byte) (string, error) {
	if err := s.backend.EnsureBucket(ctx, s.bucket); err != nil {
		return "", err
	}
	key := s.path(table, fmt.Sprintf("%s.snapshot.json", runID))
	if err := s.backend.PutObject(ctx, s.bucket, key, snapshot); err != nil {
		return "", err
	}
	return fmt.Sprintf("minio://%s/%s", s.bucket, key), nil
}

// ReadSnapshot reads back a snapshot previously written by WriteSnapshot.
func (s *MinioStore) ReadSnapshot(ctx context.Context, table, runID string) ([]byte, error) {
	key := s.path(table, fmt.Sprintf("%s.snapshot.json", runID))
	return s.backend.GetObject(ctx, s.bucket, key)
}

func (s *MinioStore) path(table, file string) string {
	return strings.Trim(strings.Join([]string{s.basePrefix, table, file}, "/"), "/")
}

// Prune deletes run-level logs and snapshots older than retentionDays.
// Age is derived from the nanosecond sequence embedded in jsonl filenames;
// snapshot files (which carry no timestamp in their name) are left alone —
// callers that want snapshot pruning track age out-of-band.
func (s *MinioStore) Prune(ctx context.Context, table string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	prefix := strings.Trim(strings.Join([]string{s.basePrefix, table}, "/"), "/")
	keys, err := s.backend.ListPrefix(ctx, s.bucket, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if !strings.HasSuffix(k, ".jsonl") {
			continue
		}
		base := filepath.Base(k)
		tsStr := strings.TrimSuffix(base, ".jsonl")
		fields := strings.Split(tsStr, "-")
		if len(fields) < 2 {
			continue
		}
		ns, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
		if err != nil {
			continue
		}
		if time.Unix(0, ns).Before(cutoff) {
			_ = s.backend.DeleteObject(ctx, s.bucket, k)
		}
	}
	return nil
}

// ListPaths returns object keys under the given prefix.
func (s *MinioStore) ListPaths(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.ListPrefix(ctx, s.bucket, strings.Trim(prefix, "/"))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// stableSeq derives a monotonic-ish suffix for append filenames from the
// highest Seq present in the batch, avoiding a dependency on wall-clock time
// so callers replaying history deterministically land on the same key.
func stableSeq(records []Record) int64 {
	var max int64
	for _, r := range records {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max
}

// minioBackend adapts a real *minio.Client to objectBackend.
type minioBackend struct {
	client *minio.Client
}

func (b *minioBackend) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func (b *minioBackend) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (b *minioBackend) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (b *minioBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	return b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (b *minioBackend) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// localStore implements objectBackend against a plain directory tree, used
// when no MinIO endpoint is configured (local dev, tests).
type localStore struct {
	root string
}

func newLocalStore(root string) *localStore {
	_ = os.MkdirAll(root, 0o755)
	return &localStore{root: root}
}

func (l *localStore) objectPath(bucket, key string) string {
	return filepath.Join(l.root, bucket, filepath.FromSlash(key))
}

func (l *localStore) EnsureBucket(ctx context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(l.root, bucket), 0o755)
}

func (l *localStore) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	path := l.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (l *localStore) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	root := filepath.Join(l.root, bucket)
	var keys []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (l *localStore) DeleteObject(ctx context.Context, bucket, key string) error {
	return os.Remove(l.objectPath(bucket, key))
}

func (l *localStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	return os.ReadFile(l.objectPath(bucket, key))
}
