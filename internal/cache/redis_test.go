package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/narration-gateway/internal/config"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisCache(NewClient(&config.Config{RedisAddr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	key := tts.CacheKey("en", "Hello.")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	audio := []byte{0xff, 0xfb, 0x00, 0x01, 0x02}
	require.NoError(t, c.Set(ctx, key, &tts.Result{Audio: audio, ContentType: "audio/mpeg", Provider: "google"}))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, audio, got.Audio)
	assert.Equal(t, "audio/mpeg", got.ContentType)
	assert.Equal(t, "google", got.Provider)

	assert.Equal(t, time.Minute, mr.TTL(defaultPrefix+key))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire after the ttl")
}

func TestRedisCache_RejectsEmptyAudio(t *testing.T) {
	c, _ := newTestCache(t)

	err := c.Set(context.Background(), "k", &tts.Result{})

	assert.ErrorIs(t, err, tts.ErrMissingAudio)
}

func TestRedisCache_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c := NewRedisCache(NewClient(&config.Config{RedisAddr: mr.Addr()}), 0)
	defer c.Close()
	mr.Close()

	_, _, err = c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestRedisCache_BacksProxy(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	provider := &countingProvider{calls: &calls}
	pc, err := tts.NewProviderConfig(map[string][]tts.Candidate{
		tts.DefaultRoute: {{Provider: provider, Timeout: time.Second}},
	})
	require.NoError(t, err)
	proxy := tts.NewProxy(pc, tts.WithCache(c))

	first, err := proxy.Synthesize(context.Background(), "Cached narration.", "kn")
	require.NoError(t, err)
	second, err := proxy.Synthesize(context.Background(), "Cached narration.", "kn")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Audio, second.Audio)
	assert.Equal(t, "counting", second.Provider)
}

type countingProvider struct {
	calls *int
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Synthesize(_ context.Context, req tts.Request) (*tts.Result, error) {
	*p.calls++
	return &tts.Result{Audio: []byte("mp3:" + req.Text), ContentType: "audio/mpeg"}, nil
}
