package memory

import (
	"context"
	"sync"
	"testing"

	"bandsim/internal/model"
)

func TestLedger_AppendAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	id1, _ := l.Append(ctx, model.TradeRecord{BuyPrice: 85, SellPrice: 110, ProfitLoss: 25})
	id2, _ := l.Append(ctx, model.TradeRecord{BuyPrice: 90, ProfitLoss: -90})
	if id1 != 1 || id2 != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", id1, id2)
	}

	all, err := l.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 || all[0].ID != 1 || all[1].BuyPrice != 90 {
		t.Fatalf("unexpected contents: %v", all)
	}
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(ctx, model.TradeRecord{ProfitLoss: 1})
		}()
	}
	wg.Wait()

	all, _ := l.ListAll(ctx)
	if len(all) != 50 {
		t.Fatalf("expected 50 records, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("ids not strictly increasing at %d: %d after %d", i, all[i].ID, all[i-1].ID)
		}
	}
}

func TestLedger_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLedger().Append(ctx, model.TradeRecord{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
