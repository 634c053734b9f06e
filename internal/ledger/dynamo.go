package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// PutItemAPI is the slice of the DynamoDB client the sink needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoSink writes one item per entry. Items are keyed so that an
// organization's history can be queried in time order:
// pk = "ORG#<org>", sk = "<kind>#<recorded_at>#<id>".
type DynamoSink struct {
	client PutItemAPI
	table  string
}

// NewDynamoSink creates a sink for the given table.
func NewDynamoSink(client PutItemAPI, table string) *DynamoSink {
	return &DynamoSink{client: client, table: table}
}

type dynamoItem struct {
	PK             string         `dynamodbav:"pk"`
	SK             string         `dynamodbav:"sk"`
	ID             string         `dynamodbav:"id"`
	Kind           string         `dynamodbav:"kind"`
	OrganizationID string         `dynamodbav:"organization_id"`
	SubjectID      string         `dynamodbav:"subject_id"`
	ParentID       string         `dynamodbav:"parent_id,omitempty"`
	LeadID         string         `dynamodbav:"lead_id,omitempty"`
	Status         string         `dynamodbav:"status"`
	Attempt        int            `dynamodbav:"attempt,omitempty"`
	Error          string         `dynamodbav:"error,omitempty"`
	Detail         map[string]any `dynamodbav:"detail,omitempty"`
	RecordedAt     time.Time      `dynamodbav:"recorded_at"`
}

func toDynamoItem(e Entry) dynamoItem {
	it := dynamoItem{
		PK:             "ORG#" + e.OrganizationID.String(),
		SK:             fmt.Sprintf("%s#%s#%s", e.Kind, e.RecordedAt.UTC().Format(time.RFC3339Nano), e.ID),
		ID:             e.ID.String(),
		Kind:           string(e.Kind),
		OrganizationID: e.OrganizationID.String(),
		SubjectID:      e.SubjectID.String(),
		Status:         e.Status,
		Attempt:        e.Attempt,
		Error:          e.Error,
		Detail:         e.Detail,
		RecordedAt:     e.RecordedAt.UTC(),
	}
	if e.ParentID != nil {
		it.ParentID = e.ParentID.String()
	}
	if e.LeadID != nil {
		it.LeadID = e.LeadID.String()
	}
	return it
}

// Record puts the entry. The condition makes a replayed entry a no-op
// instead of an overwrite.
func (s *DynamoSink) Record(ctx context.Context, e Entry) error {
	item, err := attributevalue.MarshalMap(toDynamoItem(e))
	if err != nil {
		return fmt.Errorf("marshal ledger entry %s: %w", e.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return fmt.Errorf("put ledger entry %s: %w", e.ID, err)
	}
	return nil
}
