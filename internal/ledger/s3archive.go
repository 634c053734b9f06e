package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// PutObjectAPI is the slice of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const (
	// DefaultArchiveFlushInterval is how often buffered entries are shipped.
	DefaultArchiveFlushInterval = time.Minute
	// DefaultArchiveBatchSize triggers an early flush.
	DefaultArchiveBatchSize = 500
)

// S3Archiver buffers entries and writes them as NDJSON objects under
// <prefix>/YYYY/MM/DD/. Entries from a failed upload stay buffered for the
// next flush.
type S3Archiver struct {
	client    PutObjectAPI
	bucket    string
	prefix    string
	batchSize int
	interval  time.Duration

	mu  sync.Mutex
	buf []Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewS3Archiver creates an archiver writing to bucket/prefix.
func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	if prefix == "" {
		prefix = "ledger"
	}
	return &S3Archiver{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		batchSize: DefaultArchiveBatchSize,
		interval:  DefaultArchiveFlushInterval,
		now:       time.Now,
	}
}

// SetFlushInterval overrides the periodic flush cadence.
func (a *S3Archiver) SetFlushInterval(d time.Duration) {
	if d > 0 {
		a.interval = d
	}
}

// Record buffers the entry, flushing if the batch is full.
func (a *S3Archiver) Record(ctx context.Context, e Entry) error {
	a.mu.Lock()
	a.buf = append(a.buf, e)
	full := len(a.buf) >= a.batchSize
	a.mu.Unlock()
	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush uploads everything buffered so far as one object.
func (a *S3Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode ledger entry %s: %w", e.ID, err)
		}
	}

	now := a.now().UTC()
	key := path.Join(a.prefix, now.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.ndjson", now.Format("150405"), uuid.NewString()))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata:    map[string]string{"entries": fmt.Sprintf("%d", len(batch))},
	})
	if err != nil {
		a.mu.Lock()
		a.buf = append(batch, a.buf...)
		a.mu.Unlock()
		return fmt.Errorf("archive ledger batch to s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// Start launches the periodic flush loop.
func (a *S3Archiver) Start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if err := a.Flush(a.ctx); err != nil {
					log.Printf("[LedgerArchiver] flush error: %v", err)
				}
			}
		}
	}()
}

// Stop ends the loop and performs a final flush.
func (a *S3Archiver) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
	return a.Flush(ctx)
}
