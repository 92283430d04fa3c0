// Package users stores operator accounts and their roles.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-rental-billing/internal/aws"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrExists      = errors.New("username already taken")
	ErrInvalidRole = errors.New("role must be admin or user")
)

// Store encapsulates operations on the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	params    HashParams
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		params:    DefaultHashParams,
		nowFunc:   time.Now,
	}
}

// Create hashes password and stores a new user.
func (s *Store) Create(ctx context.Context, username, password, role string) (User, error) {
	if role != RoleAdmin && role != RoleUser {
		return User{}, ErrInvalidRole
	}
	hash, err := HashPassword(password, s.params)
	if err != nil {
		return User{}, err
	}
	u := User{Username: username, Role: role, PasswordHash: hash, CreatedAt: s.nowFunc().UTC()}
	m, err := attributevalue.MarshalMap(record(u))
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                m,
		ConditionExpression: awsString("attribute_not_exists(username)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return User{}, ErrExists
		}
		return User{}, fmt.Errorf("put item: %w", err)
	}
	return u, nil
}

func (s *Store) Get(ctx context.Context, username string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"username": &types.AttributeValueMemberS{Value: username},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var r record
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	u := User(r)
	return &u, nil
}

// CheckPassword reports whether password is the stored user's password.
func (s *Store) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	u, err := s.Get(ctx, username)
	if err != nil {
		return false, err
	}
	return VerifyPassword(password, u.PasswordHash)
}

func awsString(s string) *string { return &s }
