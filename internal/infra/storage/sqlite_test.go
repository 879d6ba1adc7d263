package storage

import (
	"path/filepath"
	"testing"
	"time"

	"abmarket/internal/domain"

	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := setupTestDB(t)

	run := &domain.SimulationRun{
		Label:           "baseline",
		Seed:            42,
		Steps:           500,
		BullyingEnabled: false,
		FinalPrice:      301.25,
		Volatility:      0.18,
		TradeCount:      1200,
		TotalVolume:     48000,
		CreatedAt:       time.Now(),
	}

	// 1. Create
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run ID to be assigned")
	}

	// 2. Get
	fetched, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched run is nil")
	}
	if fetched.Label != "baseline" {
		t.Errorf("expected label baseline, got %s", fetched.Label)
	}
	if fetched.FinalPrice != 301.25 {
		t.Errorf("expected final price 301.25, got %v", fetched.FinalPrice)
	}
	if fetched.Seed != 42 {
		t.Errorf("expected seed 42, got %d", fetched.Seed)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := setupTestDB(t)

	fetched, err := s.GetRun(9999)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched != nil {
		t.Error("expected nil for a missing run, got a record")
	}
}

func TestGetRunsByLabel(t *testing.T) {
	s := setupTestDB(t)

	for i := 0; i < 3; i++ {
		if err := s.SaveRun(&domain.SimulationRun{Label: "cyberbullying", Seed: uint64(i)}); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}
	if err := s.SaveRun(&domain.SimulationRun{Label: "baseline", Seed: 99}); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := s.GetRunsByLabel("cyberbullying")
	if err != nil {
		t.Fatalf("GetRunsByLabel failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, r := range runs {
		if r.Seed != uint64(i) {
			t.Errorf("expected runs in insertion order, got seed %d at %d", r.Seed, i)
		}
	}

	all, err := s.GetAllRuns()
	if err != nil {
		t.Fatalf("GetAllRuns failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 runs total, got %d", len(all))
	}
}

func TestSaveAndGetTrades(t *testing.T) {
	s := setupTestDB(t)

	run := &domain.SimulationRun{Label: "baseline"}
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	trades := []domain.TradeRecord{
		{RunID: run.ID, Step: 1, Price: 300.5, Quantity: 10, BuyOrderID: 1, SellOrderID: 2, BuyerID: 3, SellerID: 7},
		{RunID: run.ID, Step: 2, Price: 301.0, Quantity: 5, BuyOrderID: 4, SellOrderID: 3, BuyerID: 1, SellerID: 3},
	}
	if err := s.SaveTrades(trades); err != nil {
		t.Fatalf("SaveTrades failed: %v", err)
	}

	fetched, err := s.GetTrades(run.ID)
	if err != nil {
		t.Fatalf("GetTrades failed: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(fetched))
	}
	if fetched[0].Price != 300.5 || fetched[0].Quantity != 10 {
		t.Errorf("expected first trade 10 at 300.5, got %d at %v", fetched[0].Quantity, fetched[0].Price)
	}
	if fetched[1].BuyerID != 1 || fetched[1].SellerID != 3 {
		t.Errorf("expected buyer 1 seller 3, got %d and %d", fetched[1].BuyerID, fetched[1].SellerID)
	}
}

func TestSaveTradesEmpty(t *testing.T) {
	s := setupTestDB(t)
	if err := s.SaveTrades(nil); err != nil {
		t.Fatalf("SaveTrades on empty log failed: %v", err)
	}
}

func TestSaveAndGetWealthSummaries(t *testing.T) {
	s := setupTestDB(t)

	run := &domain.SimulationRun{Label: "cyberbullying"}
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	summaries := []domain.WealthSummary{
		{
			RunID:       run.ID,
			Group:       "retail",
			Traders:     16,
			InitialMean: decimal.NewFromFloat(15000.50),
			FinalMean:   decimal.NewFromFloat(14890.25),
			ChangePct:   decimal.NewFromFloat(-0.73),
		},
		{
			RunID:       run.ID,
			Group:       "institutional",
			Traders:     4,
			InitialMean: decimal.NewFromFloat(300000),
			FinalMean:   decimal.NewFromFloat(301500),
			ChangePct:   decimal.NewFromFloat(0.5),
		},
	}
	if err := s.SaveWealthSummaries(summaries); err != nil {
		t.Fatalf("SaveWealthSummaries failed: %v", err)
	}

	fetched, err := s.GetWealthSummaries(run.ID)
	if err != nil {
		t.Fatalf("GetWealthSummaries failed: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(fetched))
	}
	if fetched[0].Group != "retail" || fetched[0].Traders != 16 {
		t.Errorf("expected retail group of 16, got %s of %d", fetched[0].Group, fetched[0].Traders)
	}
	// Decimal round-trips exactly through the decimal(30,10) column.
	if !fetched[0].InitialMean.Equal(decimal.NewFromFloat(15000.50)) {
		t.Errorf("expected initial mean 15000.50, got %s", fetched[0].InitialMean)
	}
	if !fetched[1].ChangePct.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected change 0.5%%, got %s", fetched[1].ChangePct)
	}
}
