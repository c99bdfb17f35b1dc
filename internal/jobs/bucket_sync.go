package jobs

import (
	"context"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/service"
	"github.com/cloo-solutions/policyrag/internal/storage"
	"github.com/cloo-solutions/policyrag/internal/telemetry"
)

const (
	// MaxRetries is the number of attempts made for one object version
	// before it is skipped until it changes.
	MaxRetries = 3
)

// ObjectSource lists and downloads documents from a bucket
type ObjectSource interface {
	ListObjects(ctx context.Context) ([]storage.ObjectInfo, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Extractor turns raw document bytes into text
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) (extract.Result, error)
}

// Ingester adds a document to the corpus
type Ingester interface {
	IngestDocument(ctx context.Context, id, text string, opts ...service.IngestOption) (*domain.Document, error)
}

type objectState struct {
	etag     string
	ingested bool
	failures int
}

// DocumentID names the document stored under key: its base name, so an
// uploaded file and its archived copy are the same document.
func DocumentID(key string) string {
	return path.Base(key)
}

// BucketSync ingests new and changed objects from a bucket. Objects are
// keyed by ETag, so an unchanged object is never ingested twice.
type BucketSync struct {
	source    ObjectSource
	extractor Extractor
	ingester  Ingester
	logger    *zap.Logger

	// runMu serialises sync runs. mu guards state and uploading only and is
	// never held across I/O.
	runMu     sync.Mutex
	mu        sync.Mutex
	state     map[string]*objectState
	uploading map[string]int
}

// NewBucketSync creates a new BucketSync instance
func NewBucketSync(source ObjectSource, extractor Extractor, ingester Ingester, logger *zap.Logger) *BucketSync {
	return &BucketSync{
		source:    source,
		extractor: extractor,
		ingester:  ingester,
		logger:    logging.OrNop(logger),
		state:     make(map[string]*objectState),
		uploading: make(map[string]int),
	}
}

// ProcessJobs implements the JobProcessor interface
func (s *BucketSync) ProcessJobs(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	objects, err := s.source.ListObjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bucket objects: %w", err)
	}

	for _, obj := range objects {
		if !extract.Supported(obj.Key) || !s.claim(obj) {
			continue
		}
		s.record(obj, s.syncObject(ctx, obj))
	}

	return nil
}

// claim reports whether obj should be ingested now. A new ETag starts a
// fresh attempt count. Documents being uploaded are left to the upload.
func (s *BucketSync) claim(obj storage.ObjectInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploading[DocumentID(obj.Key)] > 0 {
		return false
	}
	st, ok := s.state[obj.Key]
	if !ok || st.etag != obj.ETag {
		st = &objectState{etag: obj.ETag}
		s.state[obj.Key] = st
	}
	return !st.ingested && st.failures < MaxRetries
}

// record stores the outcome of a sync attempt unless the object was
// superseded meanwhile, e.g. by MarkSynced for a newer upload.
func (s *BucketSync) record(obj storage.ObjectInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[obj.Key]
	if !ok || st.etag != obj.ETag {
		return
	}
	if err != nil {
		st.failures++
		s.logger.Warn("bucket object sync failed",
			zap.String("key", obj.Key),
			zap.Int("attempt", st.failures),
			zap.Int("max_attempts", MaxRetries),
			zap.Error(err),
		)
		return
	}
	st.ingested = true
}

// BeginUpload marks document name as being uploaded; the sync skips it
// until EndUpload. Calls nest.
func (s *BucketSync) BeginUpload(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploading[DocumentID(name)]++
}

// EndUpload ends an upload started by BeginUpload.
func (s *BucketSync) EndUpload(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := DocumentID(name)
	if s.uploading[id]--; s.uploading[id] <= 0 {
		delete(s.uploading, id)
	}
}

// MarkSynced records an object version that is already in the corpus,
// e.g. one archived after an upload.
func (s *BucketSync) MarkSynced(key, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = &objectState{etag: etag, ingested: true}
}

func (s *BucketSync) syncObject(ctx context.Context, obj storage.ObjectInfo) error {
	data, err := s.source.GetObject(ctx, obj.Key)
	if err != nil {
		return err
	}

	res, err := s.extractor.Extract(ctx, obj.Key, data)
	if err != nil {
		return err
	}

	doc, err := s.ingester.IngestDocument(ctx, DocumentID(obj.Key), res.Text, service.WithPages(res.Pages))
	if err != nil {
		return err
	}

	telemetry.AddBreadcrumb(ctx, "bucket_sync", "ingested "+obj.Key)
	s.logger.Info("bucket object ingested",
		zap.String("key", obj.Key),
		zap.String("etag", obj.ETag),
		zap.Int("chunks", doc.ChunkCount),
	)
	return nil
}
