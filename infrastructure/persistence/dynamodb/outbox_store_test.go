package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindgraph-backend/application/ports"
)

// fakeOutboxTable emulates the DynamoDB behaviors the outbox depends
// on: Limit counts items evaluated before the filter runs, and a page
// that stops mid-partition returns LastEvaluatedKey.
type fakeOutboxTable struct {
	mu    sync.Mutex
	items []outboxItem
}

func (f *fakeOutboxTable) sorted() []outboxItem {
	out := make([]outboxItem, len(f.items))
	copy(out, f.items)
	sort.Slice(out, func(i, j int) bool { return out[i].SK < out[j].SK })
	return out
}

func (f *fakeOutboxTable) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.sorted()
	start := 0
	if params.ExclusiveStartKey != nil {
		var key struct {
			SK string `dynamodbav:"SK"`
		}
		if err := attributevalue.UnmarshalMap(params.ExclusiveStartKey, &key); err != nil {
			return nil, err
		}
		for i, item := range items {
			if item.SK == key.SK {
				start = i + 1
				break
			}
		}
	}

	evaluated := 0
	limit := len(items)
	if params.Limit != nil {
		limit = int(*params.Limit)
	}

	out := &dynamodb.QueryOutput{}
	last := -1
	for i := start; i < len(items) && evaluated < limit; i++ {
		evaluated++
		last = i
		if params.FilterExpression != nil && items[i].Status != opStatusPending {
			continue
		}
		av, err := attributevalue.MarshalMap(items[i])
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, av)
	}

	if last >= 0 && last < len(items)-1 {
		key, err := attributevalue.MarshalMap(map[string]string{
			"PK": items[last].PK,
			"SK": items[last].SK,
		})
		if err != nil {
			return nil, err
		}
		out.LastEvaluatedKey = key
	}
	return out, nil
}

func (f *fakeOutboxTable) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sk := params.Key["SK"].(*types.AttributeValueMemberS).Value
	for i, item := range f.items {
		if item.SK == sk {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeOutboxTable) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sk := params.Key["SK"].(*types.AttributeValueMemberS).Value
	for i := range f.items {
		if f.items[i].SK != sk {
			continue
		}
		if v, ok := params.ExpressionAttributeValues[":status"]; ok {
			f.items[i].Status = v.(*types.AttributeValueMemberS).Value
		}
		if v, ok := params.ExpressionAttributeValues[":attempts"]; ok {
			fmt.Sscanf(v.(*types.AttributeValueMemberN).Value, "%d", &f.items[i].Attempts)
		}
		if v, ok := params.ExpressionAttributeValues[":reason"]; ok {
			f.items[i].LastError = v.(*types.AttributeValueMemberS).Value
		}
		if v, ok := params.ExpressionAttributeValues[":expires"]; ok {
			fmt.Sscanf(v.(*types.AttributeValueMemberN).Value, "%d", &f.items[i].ExpiresAt)
		}
		break
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func seedOp(seq int, status string) outboxItem {
	return outboxItem{
		PK:         outboxPartition,
		SK:         fmt.Sprintf("OP#2026-08-30T00:00:%02d.000000000Z#%04d", seq/60, seq),
		EntityType: entityIndexOp,
		UserID:     "user-1",
		Kind:       string(ports.IndexOpEmbedNodes),
		Payload:    fmt.Sprintf(`{"kind":"embed_nodes","user_id":"user-1","nodes":[{"id":"node-%d","content":"c"}]}`, seq),
		Status:     status,
	}
}

func newOutboxFixture(items ...outboxItem) (*OutboxStore, *fakeOutboxTable) {
	table := &fakeOutboxTable{items: items}
	return NewOutboxStore(table, "test-table", zap.NewNop()), table
}

func TestOutboxPendingPagesPastParkedRecords(t *testing.T) {
	// A full batch of parked records at the partition head must not
	// hide newer pending ops sitting behind them.
	items := make([]outboxItem, 0, 63)
	for i := 0; i < 60; i++ {
		items = append(items, seedOp(i, opStatusFailed))
	}
	for i := 60; i < 63; i++ {
		items = append(items, seedOp(i, opStatusPending))
	}
	store, _ := newOutboxFixture(items...)

	records, err := store.Pending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("node-%d", 60+i), r.Op.Nodes[0].ID)
	}
}

func TestOutboxPendingHonorsLimit(t *testing.T) {
	items := make([]outboxItem, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, seedOp(i, opStatusPending))
	}
	store, _ := newOutboxFixture(items...)

	records, err := store.Pending(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "node-0", records[0].Op.Nodes[0].ID)
	assert.Equal(t, "node-1", records[1].Op.Nodes[0].ID)
}

func TestOutboxMarkDeliveredRemovesRecord(t *testing.T) {
	store, table := newOutboxFixture(seedOp(0, opStatusPending))

	records, err := store.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, store.MarkDelivered(context.Background(), records[0].ID))
	assert.Empty(t, table.items)

	records, err = store.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOutboxMarkFailedParksWithExpiry(t *testing.T) {
	store, table := newOutboxFixture(seedOp(0, opStatusPending))

	require.NoError(t, store.MarkFailed(context.Background(), table.items[0].SK, 3, "peer unavailable"))

	require.Len(t, table.items, 1)
	assert.Equal(t, opStatusFailed, table.items[0].Status)
	assert.Equal(t, 3, table.items[0].Attempts)
	assert.Equal(t, "peer unavailable", table.items[0].LastError)
	assert.Greater(t, table.items[0].ExpiresAt, int64(0))

	records, err := store.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOutboxMalformedPayloadParksAsFailed(t *testing.T) {
	bad := seedOp(0, opStatusPending)
	bad.Payload = "not json"
	store, table := newOutboxFixture(bad, seedOp(1, opStatusPending))

	records, err := store.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "node-1", records[0].Op.Nodes[0].ID)
	assert.Equal(t, opStatusFailed, table.items[0].Status)
}
