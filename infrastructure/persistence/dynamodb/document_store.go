// Package dynamodb persists graph documents, conversation messages, and
// the index outbox in a single table:
//
//	PK=USER#<id>  SK=GRAPH           one document per user
//	PK=USER#<id>  SK=MSG#<id>        conversation messages with candidates
//	PK=OUTBOX     SK=OP#<ts>#<uuid>  pending index operations
//
// Documents are written whole, conditionally on their version, so a
// mutation and its cascades commit in one atomic write. Index ops ride
// in the same TransactWriteItems as the document change.
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	"mindgraph-backend/domain/graph"
	apperrors "mindgraph-backend/pkg/errors"
)

const (
	entityDocument = "GRAPH_DOCUMENT"
	entityIndexOp  = "INDEX_OP"
	entityMessage  = "MESSAGE"

	outboxPartition = "OUTBOX"

	opStatusPending = "PENDING"
	opStatusFailed  = "FAILED"
)

// DocumentStore implements ports.DocumentStore on DynamoDB.
type DocumentStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

var _ ports.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *DocumentStore {
	return &DocumentStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type nodeItem struct {
	ID                   string   `dynamodbav:"ID"`
	Content              string   `dynamodbav:"Content"`
	Labels               []string `dynamodbav:"Labels"`
	X                    float64  `dynamodbav:"X"`
	Y                    float64  `dynamodbav:"Y"`
	SourceMessageID      *string  `dynamodbav:"SourceMessageID,omitempty"`
	SourceConversationID *string  `dynamodbav:"SourceConversationID,omitempty"`
	CreatedAt            string   `dynamodbav:"CreatedAt"`
	UpdatedAt            string   `dynamodbav:"UpdatedAt"`
}

type edgeItem struct {
	ID        string   `dynamodbav:"ID"`
	Source    string   `dynamodbav:"Source"`
	Target    string   `dynamodbav:"Target"`
	Labels    []string `dynamodbav:"Labels"`
	CreatedAt string   `dynamodbav:"CreatedAt"`
	UpdatedAt string   `dynamodbav:"UpdatedAt"`
}

type documentItem struct {
	PK         string     `dynamodbav:"PK"`
	SK         string     `dynamodbav:"SK"`
	EntityType string     `dynamodbav:"EntityType"`
	UserID     string     `dynamodbav:"UserID"`
	Nodes      []nodeItem `dynamodbav:"Nodes"`
	Edges      []edgeItem `dynamodbav:"Edges"`
	Version    int        `dynamodbav:"Version"`
	CreatedAt  string     `dynamodbav:"CreatedAt"`
	UpdatedAt  string     `dynamodbav:"UpdatedAt"`
}

func documentKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", userID)},
		"SK": &types.AttributeValueMemberS{Value: "GRAPH"},
	}
}

// Get loads the user's document with a consistent read.
func (s *DocumentStore) Get(ctx context.Context, userID string) (*graph.Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            documentKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("get document", err)
	}
	if len(out.Item) == 0 {
		return nil, apperrors.NewNotFoundError("graph document")
	}

	var item documentItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, apperrors.NewDatabaseError("unmarshal document", err)
	}
	return itemToDocument(item), nil
}

// Save writes the document conditionally on its loaded version, with
// any index ops in the same transaction. On success the in-memory
// version is bumped to match the stored one.
func (s *DocumentStore) Save(ctx context.Context, doc *graph.Document, ops ...ports.IndexOp) error {
	item, err := documentToItem(doc, doc.Version+1)
	if err != nil {
		return apperrors.NewDatabaseError("marshal document", err)
	}

	put := &types.Put{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if doc.Version == 0 {
		put.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		put.ConditionExpression = aws.String("Version = :expected")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", doc.Version)},
		}
	}

	items := []types.TransactWriteItem{{Put: put}}
	opItems, err := s.outboxPuts(ops)
	if err != nil {
		return err
	}
	items = append(items, opItems...)

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		if isConditionalFailure(err) {
			return apperrors.NewConflictError("graph document was modified concurrently")
		}
		s.logger.Error("Failed to save graph document",
			zap.String("userID", doc.UserID),
			zap.Error(err),
		)
		return apperrors.NewDatabaseError("save document", err)
	}

	doc.Version++
	return nil
}

// Delete removes the user's document with any index ops in the same
// transaction. Deleting an absent document is not an error.
func (s *DocumentStore) Delete(ctx context.Context, userID string, ops ...ports.IndexOp) error {
	items := []types.TransactWriteItem{{
		Delete: &types.Delete{
			TableName: aws.String(s.tableName),
			Key:       documentKey(userID),
		},
	}}
	opItems, err := s.outboxPuts(ops)
	if err != nil {
		return err
	}
	items = append(items, opItems...)

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		s.logger.Error("Failed to delete graph document",
			zap.String("userID", userID),
			zap.Error(err),
		)
		return apperrors.NewDatabaseError("delete document", err)
	}
	return nil
}

func (s *DocumentStore) outboxPuts(ops []ports.IndexOp) ([]types.TransactWriteItem, error) {
	items := make([]types.TransactWriteItem, 0, len(ops))
	now := time.Now().UTC()
	for _, op := range ops {
		payload, err := json.Marshal(op)
		if err != nil {
			return nil, apperrors.NewDatabaseError("marshal index op", err)
		}
		record := outboxItem{
			PK:         outboxPartition,
			SK:         fmt.Sprintf("OP#%s#%s", now.Format(time.RFC3339Nano), uuid.New().String()),
			EntityType: entityIndexOp,
			UserID:     op.UserID,
			Kind:       string(op.Kind),
			Payload:    string(payload),
			Status:     opStatusPending,
			Attempts:   0,
			CreatedAt:  now.Format(time.RFC3339Nano),
		}
		av, err := attributevalue.MarshalMap(record)
		if err != nil {
			return nil, apperrors.NewDatabaseError("marshal outbox item", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.tableName),
				Item:      av,
			},
		})
	}
	return items, nil
}

func documentToItem(doc *graph.Document, version int) (map[string]types.AttributeValue, error) {
	nodes := make([]nodeItem, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes = append(nodes, nodeItem{
			ID:                   n.ID,
			Content:              n.Content,
			Labels:               n.Labels,
			X:                    n.X,
			Y:                    n.Y,
			SourceMessageID:      n.SourceMessageID,
			SourceConversationID: n.SourceConversationID,
			CreatedAt:            n.CreatedAt.Format(time.RFC3339Nano),
			UpdatedAt:            n.UpdatedAt.Format(time.RFC3339Nano),
		})
	}
	edges := make([]edgeItem, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		edges = append(edges, edgeItem{
			ID:        e.ID,
			Source:    e.Source,
			Target:    e.Target,
			Labels:    e.Labels,
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
			UpdatedAt: e.UpdatedAt.Format(time.RFC3339Nano),
		})
	}

	item := documentItem{
		PK:         fmt.Sprintf("USER#%s", doc.UserID),
		SK:         "GRAPH",
		EntityType: entityDocument,
		UserID:     doc.UserID,
		Nodes:      nodes,
		Edges:      edges,
		Version:    version,
		CreatedAt:  doc.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  doc.UpdatedAt.Format(time.RFC3339Nano),
	}
	return attributevalue.MarshalMap(item)
}

func itemToDocument(item documentItem) *graph.Document {
	doc := &graph.Document{
		UserID:    item.UserID,
		Nodes:     make([]*graph.Node, 0, len(item.Nodes)),
		Edges:     make([]*graph.Edge, 0, len(item.Edges)),
		Version:   item.Version,
		CreatedAt: parseTime(item.CreatedAt),
		UpdatedAt: parseTime(item.UpdatedAt),
	}
	for _, n := range item.Nodes {
		labels := n.Labels
		if labels == nil {
			labels = []string{}
		}
		doc.Nodes = append(doc.Nodes, &graph.Node{
			ID:                   n.ID,
			Content:              n.Content,
			Labels:               labels,
			X:                    n.X,
			Y:                    n.Y,
			SourceMessageID:      n.SourceMessageID,
			SourceConversationID: n.SourceConversationID,
			CreatedAt:            parseTime(n.CreatedAt),
			UpdatedAt:            parseTime(n.UpdatedAt),
		})
	}
	for _, e := range item.Edges {
		labels := e.Labels
		if labels == nil {
			labels = []string{}
		}
		doc.Edges = append(doc.Edges, &graph.Edge{
			ID:        e.ID,
			Source:    e.Source,
			Target:    e.Target,
			Labels:    labels,
			CreatedAt: parseTime(e.CreatedAt),
			UpdatedAt: parseTime(e.UpdatedAt),
		})
	}
	return doc
}

func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, value)
	return t
}

func isConditionalFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}
