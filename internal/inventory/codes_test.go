package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

type stubLookup struct {
	codes []string
	taken map[string]bool
	all   bool
}

func (s *stubLookup) ListCodesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.codes, nil
}

func (s *stubLookup) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.all || s.taken[code], nil
}

func TestAllocateSequential(t *testing.T) {
	alloc := NewCodeAllocator(&stubLookup{}, nil)
	ctx := context.Background()
	for _, want := range []string{"VT-0001", "VT-0002", "VT-0003"} {
		code, err := alloc.Allocate(ctx, CategoryConsumable)
		require.NoError(t, err)
		require.Equal(t, want, code)
	}
	code, err := alloc.Allocate(ctx, CategoryMechanicalDevice)
	require.NoError(t, err)
	require.Equal(t, "TB-CK-0001", code)
	code, err = alloc.Allocate(ctx, Category("UNLISTED"))
	require.NoError(t, err)
	require.Equal(t, "GEN-0001", code)
}

func TestAllocateContinuesAfterHighestSuffix(t *testing.T) {
	lookup := &stubLookup{codes: []string{"LK-0003", "LK-0041", "LK-SPECIAL", "LK-0007"}}
	code, err := NewCodeAllocator(lookup, nil).Allocate(context.Background(), CategorySparePart)
	require.NoError(t, err)
	require.Equal(t, "LK-0042", code)
}

func TestAllocateStepsOverCollisions(t *testing.T) {
	lookup := &stubLookup{taken: map[string]bool{"BHLD-0001": true, "BHLD-0002": true}}
	code, err := NewCodeAllocator(lookup, nil).Allocate(context.Background(), CategoryProtectiveGear)
	require.NoError(t, err)
	require.Equal(t, "BHLD-0003", code)
}

func TestAllocateExhausted(t *testing.T) {
	_, err := NewCodeAllocator(&stubLookup{all: true}, nil).Allocate(context.Background(), CategoryConsumable)
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)
}

// gatedLookup holds every scan until release is closed.
type gatedLookup struct {
	stubLookup
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLookup) ListCodesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return g.codes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSharedScanSurvivesFirstCallerCancel(t *testing.T) {
	lookup := &gatedLookup{
		stubLookup: stubLookup{codes: []string{"VT-0004"}},
		entered:    make(chan struct{}, 4),
		release:    make(chan struct{}),
	}
	alloc := NewCodeAllocator(lookup, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := alloc.Allocate(first, CategoryConsumable)
		firstErr <- err
	}()
	<-lookup.entered

	type outcome struct {
		code string
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		code, err := alloc.Allocate(context.Background(), CategoryConsumable)
		second <- outcome{code, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(lookup.release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "VT-0005", got.code)
}

func TestCheckManual(t *testing.T) {
	alloc := NewCodeAllocator(&stubLookup{taken: map[string]bool{"VT-0001": true}}, nil)
	ctx := context.Background()

	code, err := alloc.CheckManual(ctx, " dc-d-0100 ")
	require.NoError(t, err)
	require.Equal(t, "DC-D-0100", code)

	_, err = alloc.CheckManual(ctx, "vt-0001")
	require.ErrorIs(t, err, shared.ErrDuplicateCode)
	_, err = alloc.CheckManual(ctx, "   ")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = alloc.CheckManual(ctx, "VT-000000000000000000000000000000001")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentCreateItemCodesUnique(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := svc.CreateItem(ctx, NewItemInput{Name: "drill", Category: CategoryElectricTool, Unit: "pcs"})
			if err != nil {
				t.Errorf("create item: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[item.Code] {
				t.Errorf("code %s allocated twice", item.Code)
			}
			seen[item.Code] = true
		}()
	}
	wg.Wait()
	require.Len(t, seen, 30)
}

func TestRedisSequence(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	seq := NewRedisSequence(client)
	ctx := context.Background()

	n, err := seq.Next(ctx, "VT", 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = seq.Next(ctx, "VT", 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = seq.Next(ctx, "VT", 10)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	n, err = seq.Next(ctx, "VT", 3)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	stored, err := mr.Get(sequenceKeyPrefix + "VT")
	require.NoError(t, err)
	require.Equal(t, "12", stored)
}

func TestSharedRedisSequenceAcrossAllocators(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	lookup := &stubLookup{}

	first, err := NewCodeAllocator(lookup, NewRedisSequence(client)).Allocate(ctx, CategoryConsumable)
	require.NoError(t, err)
	second, err := NewCodeAllocator(lookup, NewRedisSequence(client)).Allocate(ctx, CategoryConsumable)
	require.NoError(t, err)
	require.Equal(t, "VT-0001", first)
	require.Equal(t, "VT-0002", second)
}
