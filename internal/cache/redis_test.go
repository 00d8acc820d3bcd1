package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedis_SetGet(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	c := newRedis(client, "ldap2json:", hclog.NewNullLogger())

	_, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), 10*time.Minute))
	assert.Equal(t, "value", client.values["ldap2json:key"])
	assert.Equal(t, 10*time.Minute, client.ttls["ldap2json:key"])

	value, found, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", string(value))
}

func TestRedis_NegativeTTL(t *testing.T) {
	client := newFakeRedis()
	c := newRedis(client, "", hclog.NewNullLogger())

	require.NoError(t, c.Set(context.Background(), "key", []byte("v"), -time.Second))
	assert.Equal(t, time.Duration(0), client.ttls["key"])
}

func TestRedis_Errors(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	c := newRedis(client, "", hclog.NewNullLogger())

	_, found, err := c.Get(ctx, "key")
	assert.Error(t, err)
	assert.False(t, found)

	err = c.Set(ctx, "key", []byte("v"), time.Minute)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedis_Close(t *testing.T) {
	client := newFakeRedis()
	c := newRedis(client, "", hclog.NewNullLogger())

	require.NoError(t, c.Close())
	assert.True(t, client.closed)
}
