package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"

	"smallbiznis-licensing/services/testutil"

	"github.com/stretchr/testify/require"
)

func TestDBGeneratorConcurrentCallersGetGapFreeSequence(t *testing.T) {
	db := testutil.NewTestDB(t, &Counter{})
	gen := NewDBGenerator(db)

	const n = 25
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := gen.Next(context.Background(), "AB", "2501")
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			got = append(got, int(seq))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(got)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	require.Equal(t, want, got)
}

func TestDBGeneratorKeysAreIndependent(t *testing.T) {
	db := testutil.NewTestDB(t, &Counter{})
	gen := NewDBGenerator(db)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		seq, err := gen.Next(ctx, "AB", "2501")
		require.NoError(t, err)
		require.Equal(t, i, seq)
	}

	seq, err := gen.Next(ctx, "AB", "2502")
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	seq, err = gen.Next(ctx, "FO", "2501")
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)

	var counter Counter
	require.NoError(t, db.Where("scope = ? AND period = ?", "AB", "2501").Take(&counter).Error)
	require.EqualValues(t, 3, counter.LastSequence)
}

func TestDBGeneratorCurrentDoesNotAdvance(t *testing.T) {
	db := testutil.NewTestDB(t, &Counter{})
	gen := NewDBGenerator(db)
	ctx := context.Background()

	cur, err := gen.Current(ctx, "FO", "2501")
	require.NoError(t, err)
	require.Zero(t, cur)

	for i := 0; i < 2; i++ {
		_, err := gen.Next(ctx, "FO", "2501")
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		cur, err = gen.Current(ctx, "FO", "2501")
		require.NoError(t, err)
		require.EqualValues(t, 2, cur)
	}

	next, err := gen.Next(ctx, "FO", "2501")
	require.NoError(t, err)
	require.EqualValues(t, 3, next)
}
