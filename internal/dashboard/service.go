// Package dashboard assembles the stockroom overview: items at or below their
// minimum level and maintenance that is overdue or coming up.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockroom/internal/inventory"
	"github.com/odyssey-erp/stockroom/internal/maintenance"
)

const cacheKeyPrefix = "dashboard:overview:"

// StockSource lists low-stock items.
type StockSource interface {
	ListLowStock(ctx context.Context, limit int) ([]inventory.Item, error)
}

// DueSource lists due maintenance.
type DueSource interface {
	ListDue(ctx context.Context, today time.Time, limit int) ([]maintenance.DueSchedule, error)
}

// Overview is the combined stockroom snapshot.
type Overview struct {
	AsOf          string         `json:"as_of"`
	LowStock      []LowStockItem `json:"low_stock"`
	Maintenance   []DueSchedule  `json:"maintenance"`
	OverdueCount  int            `json:"overdue_count"`
	UpcomingCount int            `json:"upcoming_count"`
}

// LowStockItem is an item at or below its minimum level.
type LowStockItem struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	OnHand   int    `json:"on_hand"`
	MinLevel int    `json:"min_level"`
}

// DueSchedule is a schedule needing attention.
type DueSchedule struct {
	ID       int64  `json:"id"`
	ItemID   int64  `json:"item_id"`
	Kind     string `json:"kind"`
	NextDue  string `json:"next_due"`
	Status   string `json:"status"`
	Assignee string `json:"assigned_to,omitempty"`
}

// Service builds overviews, optionally caching them in Redis.
type Service struct {
	stock  StockSource
	due    DueSource
	client *redis.Client
	ttl    time.Duration
	limit  int
	logger *slog.Logger
}

// NewService constructs the overview service. client may be nil to disable caching.
func NewService(stock StockSource, due DueSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{stock: stock, due: due, client: client, ttl: ttl, limit: 50, logger: logger}
}

// Overview returns the snapshot for today.
func (s *Service) Overview(ctx context.Context, today time.Time) (Overview, error) {
	asOf := today.UTC().Format("2006-01-02")
	if cached, ok := s.fromCache(ctx, asOf); ok {
		return cached, nil
	}

	out := Overview{AsOf: asOf, LowStock: []LowStockItem{}, Maintenance: []DueSchedule{}}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		items, err := s.stock.ListLowStock(gctx, s.limit)
		if err != nil {
			return err
		}
		for _, item := range items {
			out.LowStock = append(out.LowStock, LowStockItem{ID: item.ID, Code: item.Code, Name: item.Name, OnHand: item.OnHand, MinLevel: item.MinLevel})
		}
		return nil
	})

	g.Go(func() error {
		due, err := s.due.ListDue(gctx, today, s.limit)
		if err != nil {
			return err
		}
		for _, d := range due {
			out.Maintenance = append(out.Maintenance, DueSchedule{
				ID:       d.ID,
				ItemID:   d.ItemID,
				Kind:     string(d.Kind),
				NextDue:  d.NextDue.Format("2006-01-02"),
				Status:   string(d.Status),
				Assignee: d.AssignedTo,
			})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	for _, d := range out.Maintenance {
		switch maintenance.Status(d.Status) {
		case maintenance.StatusOverdue:
			out.OverdueCount++
		case maintenance.StatusUpcoming:
			out.UpcomingCount++
		}
	}
	s.toCache(ctx, asOf, out)
	return out, nil
}

func (s *Service) fromCache(ctx context.Context, asOf string) (Overview, bool) {
	if s.client == nil || s.ttl <= 0 {
		return Overview{}, false
	}
	raw, err := s.client.Get(ctx, cacheKeyPrefix+asOf).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("overview cache read", slog.Any("error", err))
		}
		return Overview{}, false
	}
	var out Overview
	if err := json.Unmarshal(raw, &out); err != nil {
		return Overview{}, false
	}
	return out, true
}

func (s *Service) toCache(ctx context.Context, asOf string, out Overview) {
	if s.client == nil || s.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, cacheKeyPrefix+asOf, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("overview cache write", slog.Any("error", err))
	}
}
