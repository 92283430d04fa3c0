package users

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/imrishuroy/go-rental-billing/internal/aws/awstest"
)

var fastParams = HashParams{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("very-secure-password", fastParams)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected hash format %q", hash)
	}

	ok, err := VerifyPassword("very-secure-password", hash)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword failed for the correct password: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("bogus-password", hash)
	if err != nil || ok {
		t.Fatalf("VerifyPassword accepted a wrong password: ok=%v err=%v", ok, err)
	}

	if _, err := HashPassword("", fastParams); err == nil {
		t.Fatal("expected error for empty password")
	}
	if _, err := VerifyPassword("irrelevant", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	db := awstest.NewDynamo(map[string]string{"users": "username"})
	s := NewStore(db, "users")
	s.params = fastParams
	ctx := context.Background()

	u, err := s.Create(ctx, "counter1", "s3cret-pass", RoleUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.PasswordHash == "s3cret-pass" || u.PasswordHash == "" {
		t.Fatalf("password was not hashed")
	}

	if _, err := s.Create(ctx, "counter1", "other-pass", RoleAdmin); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Create(ctx, "counter2", "other-pass", "owner"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	got, err := s.Get(ctx, "counter1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Role != RoleUser || got.PasswordHash != u.PasswordHash {
		t.Fatalf("unexpected user %+v", got)
	}

	ok, err := s.CheckPassword(ctx, "counter1", "s3cret-pass")
	if err != nil || !ok {
		t.Fatalf("expected password to match: ok=%v err=%v", ok, err)
	}
	if _, err := s.Get(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
