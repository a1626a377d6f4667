package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// InvalidationChannel is the pubsub channel carrying read-side events for one owner.
func InvalidationChannel(ownerKey string) string {
	return fmt.Sprintf("selections:%s", ownerKey)
}

// ClientStorageKey scopes a durable client value to one browser profile.
func ClientStorageKey(clientID, key string) string {
	return fmt.Sprintf("client:%s:%s", clientID, key)
}

func ViewCacheKey(ownerKey string) string {
	return fmt.Sprintf("view:%s", ownerKey)
}

// ViewGenerationKey counts invalidations of one owner's view.
func ViewGenerationKey(ownerKey string) string {
	return fmt.Sprintf("view:gen:%s", ownerKey)
}

func ReconcileMarkerKey(userID, sessionID string) string {
	return fmt.Sprintf("reconcile:ran:%s:%s", userID, sessionID)
}
