package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	body, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	items []map[string]types.AttributeValue
	input *dynamodb.PutItemInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, in.Item)
	f.input = in
	return &dynamodb.PutItemOutput{}, nil
}

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, Entry) error { return f.err }

func sampleRun() *domain.AutomationRun {
	lead := uuid.New()
	started := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	done := started.Add(1500 * time.Millisecond)
	return &domain.AutomationRun{
		ID: uuid.New(), AutomationID: uuid.New(), OrganizationID: uuid.New(), LeadID: &lead,
		Status: domain.RunCompleted, StartedAt: started, CompletedAt: &done,
		ExecutionLog: domain.ExecutionLog{Actions: []domain.ActionLogEntry{
			{ActionType: domain.ActionSendEmail, Success: true},
			{ActionType: domain.ActionAddTag, Success: false, Error: "lead not found"},
		}},
	}
}

func TestRunEntry(t *testing.T) {
	run := sampleRun()
	e := RunEntry(run, []domain.ActionType{domain.ActionSendEmail, domain.ActionAddTag})

	assert.Equal(t, KindAutomationRun, e.Kind)
	assert.Equal(t, run.ID, e.SubjectID)
	assert.Equal(t, run.AutomationID, *e.ParentID)
	assert.Equal(t, "completed", e.Status)
	assert.Equal(t, 1, e.Detail["failed_actions"])
	assert.Equal(t, int64(1500), e.Detail["duration_ms"])
	assert.Equal(t, *run.CompletedAt, e.RecordedAt)
}

func TestTaskAttemptEntry(t *testing.T) {
	task := &domain.ScheduledTask{
		ID: uuid.New(), TaskType: "run_automation", Attempts: 2, RetryCount: 2, MaxRetries: 3,
		ScheduledFor: time.Date(2026, 6, 1, 10, 5, 0, 0, time.UTC),
	}
	e := TaskAttemptEntry(task, domain.TaskRetryScheduled, errors.New("smtp timeout"), time.Now())
	assert.Equal(t, KindTaskAttempt, e.Kind)
	assert.Equal(t, 2, e.Attempt)
	assert.Equal(t, "smtp timeout", e.Error)
	assert.Equal(t, "2026-06-01T10:05:00Z", e.Detail["next_attempt_at"])
}

func TestFanout_JoinsErrors(t *testing.T) {
	archive := NewS3Archiver(&fakeS3{}, "bucket", "")
	f := Fanout{archive, failingRecorder{errors.New("dynamo throttled")}, Nop{}}

	err := f.Record(context.Background(), RunEntry(sampleRun(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dynamo throttled")
	assert.Len(t, archive.buf, 1, "healthy sinks still receive the entry")
}

func TestS3Archiver_FlushWritesNDJSON(t *testing.T) {
	store := &fakeS3{}
	a := NewS3Archiver(store, "audit", "leadflow/ledger")
	a.now = func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Record(ctx, RunEntry(sampleRun(), nil)))
	}
	require.NoError(t, a.Flush(ctx))
	require.NoError(t, a.Flush(ctx), "empty flush is a no-op")
	require.Len(t, store.objects, 1)

	for key, body := range store.objects {
		assert.True(t, strings.HasPrefix(key, "leadflow/ledger/2026/06/01/"))
		assert.True(t, strings.HasSuffix(key, ".ndjson"))
		lines := 0
		sc := bufio.NewScanner(bytes.NewReader(body))
		for sc.Scan() {
			var e Entry
			require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
			assert.Equal(t, KindAutomationRun, e.Kind)
			lines++
		}
		assert.Equal(t, 3, lines)
	}
}

func TestS3Archiver_FailedUploadIsRetained(t *testing.T) {
	store := &fakeS3{fail: errors.New("access denied")}
	a := NewS3Archiver(store, "audit", "")
	ctx := context.Background()
	require.NoError(t, a.Record(ctx, RunEntry(sampleRun(), nil)))

	require.Error(t, a.Flush(ctx))
	assert.Len(t, a.buf, 1)

	store.fail = nil
	require.NoError(t, a.Stop(ctx))
	assert.Len(t, store.objects, 1)
	assert.Empty(t, a.buf)
}

func TestS3Archiver_BatchSizeTriggersFlush(t *testing.T) {
	store := &fakeS3{}
	a := NewS3Archiver(store, "audit", "")
	a.batchSize = 2
	ctx := context.Background()
	require.NoError(t, a.Record(ctx, RunEntry(sampleRun(), nil)))
	assert.Empty(t, store.objects)
	require.NoError(t, a.Record(ctx, RunEntry(sampleRun(), nil)))
	assert.Len(t, store.objects, 1)
}

func TestDynamoSink_Record(t *testing.T) {
	fake := &fakeDynamo{}
	sink := NewDynamoSink(fake, "leadflow-ledger")
	run := sampleRun()
	e := RunEntry(run, []domain.ActionType{domain.ActionSendEmail})

	require.NoError(t, sink.Record(context.Background(), e))
	require.Len(t, fake.items, 1)
	assert.Equal(t, "leadflow-ledger", aws.ToString(fake.input.TableName))
	assert.Equal(t, "attribute_not_exists(pk)", aws.ToString(fake.input.ConditionExpression))

	pk, ok := fake.items[0]["pk"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "ORG#"+run.OrganizationID.String(), pk.Value)
	sk := fake.items[0]["sk"].(*types.AttributeValueMemberS)
	assert.True(t, strings.HasPrefix(sk.Value, "automation_run#2026-06-01T10:00:01.5Z#"))
	parent := fake.items[0]["parent_id"].(*types.AttributeValueMemberS)
	assert.Equal(t, run.AutomationID.String(), parent.Value)
}
