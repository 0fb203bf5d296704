package toggle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funbot/internal/storage"
	logx "funbot/pkg/logx"
)

func TestDefaultEnabledAndNoInsertOnRead(t *testing.T) {
	t.Parallel()
	s := New(storage.NewMemory(), logx.Nop())
	assert.True(t, s.IsEnabled("g1", "hitokoto"))
	assert.Empty(t, s.Group("g1"))
	assert.Empty(t, s.snapshot())
}

func TestDisableEnableRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	docs, err := storage.Open(storage.Config{Dir: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	require.NoError(t, err)

	s := New(docs, logx.Nop())
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.Disable(ctx, "g1", "hitokoto"))
	assert.False(t, s.IsEnabled("g1", "hitokoto"))
	assert.True(t, s.IsEnabled("g2", "hitokoto"))
	assert.Equal(t, []string{"hitokoto"}, s.Disabled("g1"))

	reloaded := New(docs, logx.Nop())
	require.NoError(t, reloaded.Load(ctx))
	assert.False(t, reloaded.IsEnabled("g1", "hitokoto"))
	assert.Equal(t, s.snapshot(), reloaded.snapshot())

	require.NoError(t, s.Enable(ctx, "g1", "hitokoto"))
	assert.True(t, s.IsEnabled("g1", "hitokoto"))

	b, ok, err := docs.Load(ctx, DocName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"g1":{"hitokoto":true}}`, string(b))
}

func TestLoadMissingCreatesAndInvalidStartsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()

	s := New(mem, logx.Nop())
	require.NoError(t, s.Load(ctx))
	b, ok, _ := mem.Load(ctx, DocName)
	require.True(t, ok)
	assert.JSONEq(t, `{}`, string(b))

	require.NoError(t, mem.Save(ctx, DocName, []byte(`{not json`)))
	s = New(mem, logx.Nop())
	require.NoError(t, s.Load(ctx))
	assert.True(t, s.IsEnabled("g", "dog"))
}

func TestConcurrentTogglesPersistLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	s := New(mem, logx.Nop())

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := fmt.Sprintf("c%d", i)
			_ = s.Disable(ctx, "g", cmd)
			_ = s.IsEnabled("g", cmd)
		}()
	}
	wg.Wait()
	require.NoError(t, s.Flush(ctx))

	reloaded := New(mem, logx.Nop())
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.Disabled("g"), 20)
	assert.Equal(t, 21, mem.Saves())
}
