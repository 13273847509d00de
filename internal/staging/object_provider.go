package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
)

// finalSentinel is the zero-byte object written by FinalizeStage.
const finalSentinel = "_FINAL"

// ObjectClient is the subset of the minio-go client this provider depends
// on, so tests can substitute an in-memory double without dialing a real
// MinIO server.
type ObjectClient interface {
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error)
	StatObject(ctx context.Context, bucket, key string) (bool, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

// ObjectProvider stages record envelopes as NDJSON objects in an S3-
// compatible bucket, matching the wire layout
// <bucket>/<basePrefix>/<stageId>/<sliceId>/<zero-padded-batchSeq>.ndjson.
type ObjectProvider struct {
	client     ObjectClient
	bucket     string
	basePrefix string
}

// NewObjectProvider constructs an object-store staging provider.
func NewObjectProvider(client ObjectClient, bucket, basePrefix string) (*ObjectProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("object client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required for staging")
	}
	if basePrefix == "" {
		basePrefix = "staging"
	}
	if err := client.EnsureBucket(context.Background(), bucket); err != nil {
		return nil, coreerr.New(coreerr.CodeStagingUnavailable, true, fmt.Errorf("ensure bucket %s: %w", bucket, err))
	}
	return &ObjectProvider{client: client, bucket: bucket, basePrefix: basePrefix}, nil
}

func (p *ObjectProvider) ID() string { return ProviderObjectStore }

func (p *ObjectProvider) stagePrefix(stageID string) string {
	return joinPath(p.basePrefix, stageID)
}

func (p *ObjectProvider) finalKey(stageID string) string {
	return joinPath(p.stagePrefix(stageID), finalSentinel)
}

func (p *ObjectProvider) isFinalized(ctx context.Context, stageID string) bool {
	ok, _ := p.client.StatObject(ctx, p.bucket, p.finalKey(stageID))
	return ok
}

func (p *ObjectProvider) PutBatch(ctx context.Context, req *PutBatchRequest) (*PutBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageID := resolveStageID(req.StageRef, req.StageID)
	if stageID == "" {
		stageID = NewStageID()
	}

	if p.isFinalized(ctx, stageID) {
		return nil, coreerr.New(coreerr.CodeStagingUnavailable, false, fmt.Errorf("stage %s is finalized", stageID))
	}

	batchSeq := req.BatchSeq
	if batchSeq <= 0 {
		existing, err := p.ListBatches(ctx, MakeStageRef(p.ID(), stageID), req.SliceID)
		if err == nil {
			batchSeq = len(existing)
		}
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for _, rec := range req.Records {
		if err := enc.Encode(rec); err != nil {
			return nil, coreerr.New(coreerr.CodeUnknown, false, err)
		}
	}

	batchRef := batchKey(req.SliceID, batchSeq)
	objectKey := joinPath(p.stagePrefix(stageID), req.SliceID, fmt.Sprintf("%06d.ndjson", batchSeq))

	if err := p.client.PutObject(ctx, p.bucket, objectKey, buf.Bytes()); err != nil {
		return nil, coreerr.New(coreerr.CodeStagingUnavailable, true, err)
	}

	return &PutBatchResult{
		StageRef: MakeStageRef(p.ID(), stageID),
		BatchRef: batchRef,
		Stats:    BatchStats{Records: len(req.Records), Bytes: int64(buf.Len())},
	}, nil
}

func (p *ObjectProvider) ListBatches(ctx context.Context, stageRef string, sliceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := ParseStageRef(stageRef)
	prefix := p.stagePrefix(stageID)
	if sliceID != "" {
		prefix = joinPath(prefix, sliceID)
	}

	keys, err := p.client.ListPrefix(ctx, p.bucket, prefix)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeStagingUnavailable, true, err)
	}

	base := p.stagePrefix(stageID) + "/"
	var refs []string
	for _, key := range keys {
		if strings.HasSuffix(key, "/"+finalSentinel) || strings.HasSuffix(key, finalSentinel) {
			continue
		}
		trimmed := strings.TrimPrefix(key, base)
		if sliceID != "" && !strings.HasPrefix(trimmed, sliceID+"/") {
			continue
		}
		refs = append(refs, batchRefFromObjectKey(trimmed))
	}
	sort.Strings(refs)
	return refs, nil
}

func (p *ObjectProvider) GetBatch(ctx context.Context, stageRef string, batchRef string) ([]RecordEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := ParseStageRef(stageRef)
	sliceID, seq := splitBatchRef(batchRef)
	key := joinPath(p.stagePrefix(stageID), sliceID, fmt.Sprintf("%06d.ndjson", seq))

	data, err := p.client.GetObject(ctx, p.bucket, key)
	if err != nil {
		return nil, coreerr.New(coreerr.CodeStagingUnavailable, true, err)
	}

	var records []RecordEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec RecordEnvelope
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FinalizeStage writes the _FINAL sentinel object marking the stage
// irreversibly closed to further writes; getBatch/listBatches remain valid.
func (p *ObjectProvider) FinalizeStage(ctx context.Context, stageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, stageID := ParseStageRef(stageRef)
	if err := p.client.PutObject(ctx, p.bucket, p.finalKey(stageID), nil); err != nil {
		return coreerr.New(coreerr.CodeStagingUnavailable, true, err)
	}
	return nil
}

func joinPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// batchRefFromObjectKey turns "<sliceId>/000003.ndjson" into the canonical
// "<sliceId>-000003" batchKey form used elsewhere (memory provider and the
// runner's accumulated batchRefs list both use the dashed form).
func batchRefFromObjectKey(key string) string {
	sliceID, seq := "", 0
	idx := strings.LastIndex(key, "/")
	fileName := key
	if idx >= 0 {
		sliceID = key[:idx]
		fileName = key[idx+1:]
	}
	fmt.Sscanf(strings.TrimSuffix(fileName, ".ndjson"), "%d", &seq)
	return batchKey(sliceID, seq)
}

func splitBatchRef(batchRef string) (sliceID string, seq int) {
	idx := strings.LastIndex(batchRef, "-")
	if idx < 0 {
		return "slice", 0
	}
	sliceID = batchRef[:idx]
	fmt.Sscanf(batchRef[idx+1:], "%d", &seq)
	return sliceID, seq
}

// MinioClient adapts a real *minio.Client to the ObjectClient interface.
type MinioClient struct {
	Client *minio.Client
}

func (m *MinioClient) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	_, err := m.Client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	return err
}

func (m *MinioClient) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (m *MinioClient) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (m *MinioClient) StatObject(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MinioClient) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.Client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}
