package persistence

import (
	"testing"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"

	"github.com/predatorfx/hunter/internal/config"
)

func TestStore_ConfigCacheRoundTrip(t *testing.T) {
	s := &Store{cache: gocache.New(5*time.Minute, 10*time.Minute)}

	_, found := s.CachedConfig()
	assert.False(t, found)

	cfg := &config.Config{}
	cfg.Trading.EngineName = "predatory_hunter"
	s.CacheConfig(cfg)

	got, found := s.CachedConfig()
	assert.True(t, found)
	assert.Equal(t, "predatory_hunter", got.Trading.EngineName)
}
