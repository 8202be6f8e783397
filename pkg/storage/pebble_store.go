package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
)

// PebbleStore is the node's durable journal: every committed engine event, the fill
// history, a lifecycle snapshot per market, and wallet balances.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// MarketRecord is the persisted lifecycle snapshot of a market
type MarketRecord struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Creator    string    `json:"creator"`
	Deadline   int64     `json:"deadline"`
	State      string    `json:"state"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"createdAt"`
	ResolvedAt time.Time `json:"resolvedAt,omitempty"`
	LastSeq    uint64    `json:"lastSeq"`
}

// FillRecord is one persisted match
type FillRecord struct {
	MarketID    string    `json:"marketId"`
	Seq         uint64    `json:"seq"`
	BuyOrderID  uint64    `json:"buyOrderId"`
	SellOrderID uint64    `json:"sellOrderId"`
	Outcome     string    `json:"outcome"`
	Price       int64     `json:"price"`
	Amount      int64     `json:"amount"`
	TakerSide   string    `json:"takerSide"`
	Time        time.Time `json:"time"`
}

// HandleEvents writes a committed batch of events atomically
func (s *PebbleStore) HandleEvents(_ context.Context, events []predict.Event) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	// markets touched by this batch, so created+resolved in one batch compose
	records := make(map[string]*MarketRecord)
	record := func(id string) (*MarketRecord, error) {
		if rec, ok := records[id]; ok {
			return rec, nil
		}
		rec, err := s.LoadMarket(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec = &MarketRecord{ID: id}
		}
		records[id] = rec
		return rec, nil
	}

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := batch.Set(eventKey(ev.MarketID, ev.Seq), data, nil); err != nil {
			return fmt.Errorf("failed to stage event: %w", err)
		}

		switch ev.Type {
		case predict.EventOrderFilled:
			fill, err := json.Marshal(FillRecord{
				MarketID:    ev.MarketID,
				Seq:         ev.Seq,
				BuyOrderID:  ev.BuyOrderID,
				SellOrderID: ev.SellOrderID,
				Outcome:     ev.Outcome,
				Price:       ev.Price,
				Amount:      ev.Amount,
				TakerSide:   ev.Side,
				Time:        ev.Time,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal fill: %w", err)
			}
			if err := batch.Set(fillKey(ev.MarketID, ev.Time.UnixNano(), ev.Seq), fill, nil); err != nil {
				return fmt.Errorf("failed to stage fill: %w", err)
			}

		case predict.EventMarketCreated:
			rec, err := record(ev.MarketID)
			if err != nil {
				return err
			}
			rec.Question = ev.Question
			rec.Creator = ev.Owner
			rec.Deadline = ev.Deadline
			rec.State = "Open"
			rec.Outcome = "unresolved"
			rec.CreatedAt = ev.Time

		case predict.EventMarketResolved:
			rec, err := record(ev.MarketID)
			if err != nil {
				return err
			}
			rec.State = "Resolved"
			rec.Outcome = ev.Outcome
			rec.ResolvedAt = ev.Time

		case predict.EventMarketRefundable:
			rec, err := record(ev.MarketID)
			if err != nil {
				return err
			}
			rec.State = "Refundable"
			rec.ResolvedAt = ev.Time
		}

		if rec, ok := records[ev.MarketID]; ok && ev.Seq > rec.LastSeq {
			rec.LastSeq = ev.Seq
		}
	}

	for id, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal market: %w", err)
		}
		if err := batch.Set(marketKey(id), data, nil); err != nil {
			return fmt.Errorf("failed to stage market: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// LoadMarket loads a market snapshot
// Returns nil if the market doesn't exist
func (s *PebbleStore) LoadMarket(id string) (*MarketRecord, error) {
	data, closer, err := s.db.Get(marketKey(id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	defer closer.Close()

	var rec MarketRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market: %w", err)
	}
	return &rec, nil
}

// LoadMarkets loads every market snapshot
func (s *PebbleStore) LoadMarkets() ([]*MarketRecord, error) {
	prefix := []byte(prefixMarket)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []*MarketRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec MarketRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, &rec)
	}
	return out, nil
}

// MarketIDs lists every market with a snapshot; the engine replays each one's journal on restart
func (s *PebbleStore) MarketIDs() ([]string, error) {
	recs, err := s.LoadMarkets()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// LoadEvents returns up to limit journal entries of a market with Seq > after, oldest first
func (s *PebbleStore) LoadEvents(marketID string, after uint64, limit int) ([]predict.Event, error) {
	prefix := eventPrefix(marketID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(marketID, after+1),
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []predict.Event
	for iter.First(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Next() {
		var ev predict.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt event at %s: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// LoadRecentFills loads the most recent fills of a market, newest first
func (s *PebbleStore) LoadRecentFills(marketID string, limit int) ([]*FillRecord, error) {
	prefix := fillPrefix(marketID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var fills []*FillRecord
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		var f FillRecord
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue
		}
		fills = append(fills, &f)
	}
	return fills, nil
}

// SaveBalance persists a wallet balance
func (s *PebbleStore) SaveBalance(addr common.Address, balance int64) error {
	data, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(addr), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalances loads every persisted wallet balance
func (s *PebbleStore) LoadBalances() (map[common.Address]int64, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]int64)
	for iter.First(); iter.Valid(); iter.Next() {
		addr, err := addressFromBalanceKey(iter.Key())
		if err != nil {
			return nil, err
		}
		var bal int64
		if err := json.Unmarshal(iter.Value(), &bal); err != nil {
			return nil, fmt.Errorf("corrupt balance for %s: %w", addr.Hex(), err)
		}
		out[addr] = bal
	}
	return out, nil
}

var _ predict.EventSink = (*PebbleStore)(nil)
