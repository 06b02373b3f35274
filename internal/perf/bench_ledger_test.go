package perf

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/odyssey-erp/stockroom/internal/inventory"
)

func newBenchService(b *testing.B) *inventory.Service {
	b.Helper()
	return inventory.NewService(inventory.NewMemoryRepository(), nil, inventory.ServiceConfig{
		Sequence: inventory.NewMemorySequence(),
	}, nil)
}

func seedItem(b *testing.B, svc *inventory.Service, onHand int) int64 {
	b.Helper()
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, inventory.NewItemInput{Name: "Bolt", Category: inventory.CategorySparePart, Unit: "pcs"})
	if err != nil {
		b.Fatal(err)
	}
	if _, err := svc.Receive(ctx, inventory.ReceiveInput{ItemID: item.ID, Quantity: onHand, Actor: "bench"}); err != nil {
		b.Fatal(err)
	}
	return item.ID
}

func BenchmarkIssueSameItemParallel(b *testing.B) {
	svc := newBenchService(b)
	id := seedItem(b, svc, 1<<30)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.Issue(context.Background(), inventory.IssueInput{ItemID: id, Quantity: 1, Recipient: "line", Actor: "bench"}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkIssueDistinctItemsParallel(b *testing.B) {
	svc := newBenchService(b)
	ids := make([]int64, 64)
	for i := range ids {
		ids[i] = seedItem(b, svc, 1<<30)
	}
	var next atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := ids[int(next.Add(1))%len(ids)]
		for pb.Next() {
			if _, err := svc.Issue(context.Background(), inventory.IssueInput{ItemID: id, Quantity: 1, Recipient: "line", Actor: "bench"}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkCreateItemAllocatesCodes(b *testing.B) {
	svc := newBenchService(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.CreateItem(ctx, inventory.NewItemInput{Name: fmt.Sprintf("Cable %d", i), Category: inventory.CategoryConsumable, Unit: "m"}); err != nil {
			b.Fatal(err)
		}
	}
}
