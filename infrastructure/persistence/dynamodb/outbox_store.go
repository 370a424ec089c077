package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	apperrors "mindgraph-backend/pkg/errors"
)

// failedRecordTTL is how long parked FAILED records stay visible for
// operator inspection before DynamoDB's TTL sweeper removes them.
const failedRecordTTL = 7 * 24 * time.Hour

// OutboxClient is the subset of the DynamoDB API the outbox uses.
type OutboxClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// OutboxStore implements ports.OutboxStore. Records are written by
// DocumentStore inside the mutation transaction; this store reads them
// back, removes them on delivery, and parks undeliverable ones.
type OutboxStore struct {
	client    OutboxClient
	tableName string
	logger    *zap.Logger
}

var _ ports.OutboxStore = (*OutboxStore)(nil)

// NewOutboxStore creates an OutboxStore.
func NewOutboxStore(client OutboxClient, tableName string, logger *zap.Logger) *OutboxStore {
	return &OutboxStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type outboxItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	UserID     string `dynamodbav:"UserID"`
	Kind       string `dynamodbav:"Kind"`
	Payload    string `dynamodbav:"Payload"`
	Status     string `dynamodbav:"Status"`
	Attempts   int    `dynamodbav:"Attempts"`
	LastError  string `dynamodbav:"LastError,omitempty"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	ExpiresAt  int64  `dynamodbav:"ExpiresAt,omitempty"`
}

// Pending returns up to limit undelivered ops, oldest first. The query
// pages through the partition: DynamoDB applies Limit before the status
// filter, so parked FAILED records at the partition head must not hide
// PENDING ones behind them.
func (s *OutboxStore) Pending(ctx context.Context, limit int32) ([]*ports.OutboxRecord, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("PK").Equal(expression.Value(outboxPartition))).
		WithFilter(expression.Name("Status").Equal(expression.Value(opStatusPending))).
		Build()
	if err != nil {
		return nil, apperrors.NewDatabaseError("build outbox query", err)
	}

	records := make([]*ports.OutboxRecord, 0, limit)
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Limit:                     aws.Int32(limit),
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, apperrors.NewDatabaseError("query outbox", err)
		}

		for _, raw := range out.Items {
			if int32(len(records)) >= limit {
				return records, nil
			}
			record, ok := s.decode(ctx, raw)
			if ok {
				records = append(records, record)
			}
		}

		if out.LastEvaluatedKey == nil || int32(len(records)) >= limit {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *OutboxStore) decode(ctx context.Context, raw map[string]types.AttributeValue) (*ports.OutboxRecord, bool) {
	var item outboxItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		s.logger.Warn("Failed to unmarshal outbox item", zap.Error(err))
		return nil, false
	}
	var op ports.IndexOp
	if err := json.Unmarshal([]byte(item.Payload), &op); err != nil {
		s.logger.Warn("Malformed outbox payload, parking as failed",
			zap.String("sk", item.SK),
			zap.Error(err),
		)
		// A payload that cannot be decoded will never deliver.
		_ = s.MarkFailed(ctx, item.SK, item.Attempts+1, "malformed payload: "+err.Error())
		return nil, false
	}
	return &ports.OutboxRecord{
		ID:        item.SK,
		Op:        op,
		Attempts:  item.Attempts,
		LastError: item.LastError,
		CreatedAt: parseTime(item.CreatedAt),
	}, true
}

// MarkDelivered removes a delivered record. Keeping delivered items in
// the partition would pile up in front of newer PENDING ones.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       outboxKey(id),
	})
	if err != nil {
		return apperrors.NewDatabaseError("delete outbox record", err)
	}
	return nil
}

// MarkFailed parks a record for operator inspection, with a TTL so the
// partition does not accumulate dead records forever. Callers decide
// when attempts exhaust the retry budget.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, attempts int, reason string) error {
	expires := time.Now().Add(failedRecordTTL).Unix()
	return s.setStatus(ctx, id, opStatusFailed, &attempts, reason, &expires)
}

// MarkRetrying resets a record to pending with an updated attempt count
// so the next sweep picks it up again.
func (s *OutboxStore) MarkRetrying(ctx context.Context, id string, attempts int, reason string) error {
	return s.setStatus(ctx, id, opStatusPending, &attempts, reason, nil)
}

func outboxKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: outboxPartition},
		"SK": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *OutboxStore) setStatus(ctx context.Context, id, status string, attempts *int, reason string, expiresAt *int64) error {
	update := "SET #status = :status"
	names := map[string]string{"#status": "Status"}
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: status},
	}
	if attempts != nil {
		update += ", Attempts = :attempts"
		values[":attempts"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *attempts)}
	}
	if reason != "" {
		update += ", LastError = :reason"
		values[":reason"] = &types.AttributeValueMemberS{Value: reason}
	}
	if expiresAt != nil {
		update += ", ExpiresAt = :expires"
		values[":expires"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *expiresAt)}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       outboxKey(id),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return apperrors.NewDatabaseError("update outbox status", err)
	}
	return nil
}
