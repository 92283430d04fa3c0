package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-rental-billing/internal/aws"
)

var (
	ErrNotFound = errors.New("inventory item not found")
	ErrExists   = errors.New("inventory item already exists")
)

// maxTransactItems is the DynamoDB limit for one TransactWriteItems call.
const maxTransactItems = 100

// Store encapsulates operations on the inventory table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new inventory Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Add creates a single item; ErrExists if the description is taken.
func (s *Store) Add(ctx context.Context, it Item) error {
	it.UpdatedAt = s.nowFunc().UTC()
	m, err := attributevalue.MarshalMap(toRecord(it))
	if err != nil {
		return fmt.Errorf("marshal inventory item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                m,
		ConditionExpression: awsString("attribute_not_exists(item_description)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// AddBulk creates all items atomically, so a bulk upload either lands whole
// or not at all.
func (s *Store) AddBulk(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxTransactItems {
		return fmt.Errorf("bulk add accepts at most %d items, got %d", maxTransactItems, len(items))
	}
	now := s.nowFunc().UTC()
	transactItems := make([]types.TransactWriteItem, 0, len(items))
	for _, it := range items {
		it.UpdatedAt = now
		m, err := attributevalue.MarshalMap(toRecord(it))
		if err != nil {
			return fmt.Errorf("marshal inventory item %q: %w", it.Description, err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                m,
				ConditionExpression: awsString("attribute_not_exists(item_description)"),
			},
		})
	}
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %v", ErrExists, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an item by description.
func (s *Store) Get(ctx context.Context, description string) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key(description),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var r record
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal inventory item: %w", err)
	}
	it, err := fromRecord(r)
	if err != nil {
		return nil, fmt.Errorf("decode inventory item %q: %w", r.Description, err)
	}
	return &it, nil
}

// List scans the whole table. The catalog is small enough for a scan.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	var (
		out   []Item
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		var recs []record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal inventory page: %w", err)
		}
		for _, r := range recs {
			it, err := fromRecord(r)
			if err != nil {
				return nil, fmt.Errorf("decode inventory item %q: %w", r.Description, err)
			}
			out = append(out, it)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

// FetchCatalog is the read-only catalog lookup used for search suggestions.
func (s *Store) FetchCatalog(ctx context.Context) ([]Item, error) {
	return s.List(ctx)
}

// Update replaces an existing item; ErrNotFound if it does not exist.
func (s *Store) Update(ctx context.Context, it Item) error {
	it.UpdatedAt = s.nowFunc().UTC()
	m, err := attributevalue.MarshalMap(toRecord(it))
	if err != nil {
		return fmt.Errorf("marshal inventory item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                m,
		ConditionExpression: awsString("attribute_exists(item_description)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Delete removes an item; ErrNotFound if it does not exist.
func (s *Store) Delete(ctx context.Context, description string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 key(description),
		ConditionExpression: awsString("attribute_exists(item_description)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// AdjustInventory adds a signed delta to the on-hand quantity in one atomic
// update. Stock is not clamped: reconciliation may drive it negative.
func (s *Store) AdjustInventory(ctx context.Context, description string, delta int) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              key(description),
		UpdateExpression: awsString("SET item_quantity = item_quantity + :delta, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
			":ua":    &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(item_description)"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, description)
		}
		return fmt.Errorf("update item (adjust quantity): %w", err)
	}
	return nil
}

func key(description string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"item_description": &types.AttributeValueMemberS{Value: description},
	}
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func awsString(s string) *string { return &s }
