package tasklist

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/identity"
	"github.com/BuzzLyutic/taskstar/internal/testutil/fake"
)

func TestConcurrent_AddTask(t *testing.T) {
	r := fake.NewRepo()
	c := New(r, "owner-1", func(context.Context) string { return fake.TokenFor("owner-1") }, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = c.AddTask(ctx, fmt.Sprintf("task %d", idx))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "add %d", i)
	}

	seen := make(map[string]bool)
	for _, task := range c.Tasks() {
		assert.False(t, seen[task.ID], "duplicate %s", task.ID)
		seen[task.ID] = true
	}
	assert.Len(t, seen, goroutines)
	assert.Equal(t, goroutines, c.Summary().Remaining)
}

func TestConcurrent_ToggleStar(t *testing.T) {
	r := fake.NewRepo()
	seeded := r.Seed("owner-1", "racy", false, false)
	c := New(r, "owner-1", func(context.Context) string { return fake.TokenFor("owner-1") }, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.ToggleStar(ctx, seeded.ID))
		}()
	}
	wg.Wait()

	// racing toggles may read the same local value; last response wins
	remote, err := r.List(identity.WithAccessToken(ctx, fake.TokenFor("owner-1")))
	require.NoError(t, err)
	require.Len(t, c.Tasks(), 1)
	require.Len(t, remote, 1)
	assert.Equal(t, 10, r.Calls("update"))
	assert.Equal(t, seeded.ID, c.Tasks()[0].ID)
}
