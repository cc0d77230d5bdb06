package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBackendsReturnClosers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	tests := []struct {
		name    string
		catalog string
		chats   string
		wantErr bool
	}{
		{"file and redis", "file", "redis", false},
		{"defaults", "", "", false},
		{"memory", "memory", "redis", false},
		{"unknown catalog", "sqlite", "redis", true},
		{"unknown chat store", "memory", "dynamo", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{CatalogStore: tt.catalog, CatalogDir: "data", ChatStore: tt.chats}

			cat, closeCatalog, catErr := newCatalog(ctx, cfg)
			if catErr == nil {
				if cat == nil || closeCatalog == nil {
					t.Fatalf("catalog %q: nil catalog or closer", tt.catalog)
				}
				closeCatalog()
			}
			chats, closeChats, chatErr := newChatStore(ctx, cfg, rdb)
			if chatErr == nil {
				if chats == nil || closeChats == nil {
					t.Fatalf("chat store %q: nil store or closer", tt.chats)
				}
				closeChats()
			}

			if gotErr := catErr != nil || chatErr != nil; gotErr != tt.wantErr {
				t.Fatalf("catalog err = %v, chat store err = %v", catErr, chatErr)
			}
		})
	}

	// the caller still owns the redis client after closing the chat store
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis client closed by chat store closer: %v", err)
	}
}
