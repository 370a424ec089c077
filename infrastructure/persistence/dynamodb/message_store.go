package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
	apperrors "mindgraph-backend/pkg/errors"
)

// MessageStore implements ports.MessageStore. Conversation pipelines
// write MESSAGE items carrying candidate nodes; imports read them back
// and flag the candidates they promoted into the graph.
type MessageStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

var _ ports.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a MessageStore.
func NewMessageStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *MessageStore {
	return &MessageStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type candidateItem struct {
	NodeID         string   `dynamodbav:"NodeID"`
	ConversationID string   `dynamodbav:"ConversationID"`
	Content        string   `dynamodbav:"Content"`
	Labels         []string `dynamodbav:"Labels"`
	X              float64  `dynamodbav:"X"`
	Y              float64  `dynamodbav:"Y"`
	Curated        bool     `dynamodbav:"Curated"`
}

type messageItem struct {
	PK         string          `dynamodbav:"PK"`
	SK         string          `dynamodbav:"SK"`
	EntityType string          `dynamodbav:"EntityType"`
	UserID     string          `dynamodbav:"UserID"`
	MessageID  string          `dynamodbav:"MessageID"`
	Candidates []candidateItem `dynamodbav:"Candidates"`
}

func messageKey(userID, messageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", userID)},
		"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("MSG#%s", messageID)},
	}
}

// FindCandidates resolves the requested node IDs against the user's
// message candidates. IDs with no backing candidate are silently
// dropped; callers decide whether an empty result is an error.
func (s *MessageStore) FindCandidates(ctx context.Context, userID string, nodeIDs []string) ([]*ports.CandidateNode, error) {
	wanted := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = true
	}

	var found []*ports.CandidateNode
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :msg)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":  &types.AttributeValueMemberS{Value: fmt.Sprintf("USER#%s", userID)},
				":msg": &types.AttributeValueMemberS{Value: "MSG#"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, apperrors.NewDatabaseError("query messages", err)
		}

		for _, raw := range out.Items {
			var msg messageItem
			if err := attributevalue.UnmarshalMap(raw, &msg); err != nil {
				s.logger.Warn("Failed to unmarshal message item", zap.Error(err))
				continue
			}
			for _, c := range msg.Candidates {
				if !wanted[c.NodeID] {
					continue
				}
				found = append(found, &ports.CandidateNode{
					NodeID:         c.NodeID,
					MessageID:      msg.MessageID,
					ConversationID: c.ConversationID,
					Content:        c.Content,
					Labels:         c.Labels,
					X:              c.X,
					Y:              c.Y,
					Curated:        c.Curated,
				})
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return found, nil
}

// MarkCurated flags the named candidates on their message items. The
// graph write has already committed by the time this runs, so failures
// here are logged and surfaced but leave the graph intact.
func (s *MessageStore) MarkCurated(ctx context.Context, userID string, refs []ports.CandidateRef) error {
	byMessage := make(map[string][]string)
	for _, ref := range refs {
		byMessage[ref.MessageID] = append(byMessage[ref.MessageID], ref.NodeID)
	}

	for messageID, nodeIDs := range byMessage {
		if err := s.markMessageCurated(ctx, userID, messageID, nodeIDs); err != nil {
			return err
		}
	}
	return nil
}

// markMessageCurated rewrites a message item with the matching
// candidates flagged. Candidate lists are small, so a read-modify-put
// beats list-index update expressions here.
func (s *MessageStore) markMessageCurated(ctx context.Context, userID, messageID string, nodeIDs []string) error {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            messageKey(userID, messageID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return apperrors.NewDatabaseError("get message", err)
	}
	if out.Item == nil {
		s.logger.Warn("Message vanished before curation flag",
			zap.String("user_id", userID),
			zap.String("message_id", messageID),
		)
		return nil
	}

	var msg messageItem
	if err := attributevalue.UnmarshalMap(out.Item, &msg); err != nil {
		return apperrors.NewDatabaseError("unmarshal message", err)
	}

	flag := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		flag[id] = true
	}
	changed := false
	for i := range msg.Candidates {
		if flag[msg.Candidates[i].NodeID] && !msg.Candidates[i].Curated {
			msg.Candidates[i].Curated = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	item, err := attributevalue.MarshalMap(msg)
	if err != nil {
		return apperrors.NewDatabaseError("marshal message", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return apperrors.NewDatabaseError("put message", err)
	}
	return nil
}
