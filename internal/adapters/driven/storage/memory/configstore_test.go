package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_Seeded(t *testing.T) {
	store := NewConfigStore(
		map[string]any{"llm.provider": "openai", "retrieval.limit": 3},
		map[string]any{"retrieval.limit": 5},
	)

	v, ok := store.Get("retrieval.limit")
	require.True(t, ok)
	assert.Equal(t, 5, v, "later seeds win")
	assert.Equal(t, []string{"llm.provider", "retrieval.limit"}, store.Keys())
	assert.Equal(t, ":memory:", store.Path())
}

func TestConfigStore_SetAndDelete(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("session.timeout", "45m"))
	v, ok := store.Get("session.timeout")
	require.True(t, ok)
	assert.Equal(t, "45m", v)

	require.NoError(t, store.Delete("session.timeout"))
	require.NoError(t, store.Delete("session.timeout"))
	_, ok = store.Get("session.timeout")
	assert.False(t, ok)
	assert.Empty(t, store.Keys())
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := NewConfigStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			assert.NoError(t, store.Set(key, i))
			v, _ := store.Get(key)
			assert.Equal(t, i, v)
		}()
	}
	wg.Wait()
	assert.Len(t, store.Keys(), 50)
}
