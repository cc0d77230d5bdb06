package catalog

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection names.
const (
	Hotels       = "hotels"
	Flights      = "flights"
	Packages     = "packages"
	Destinations = "destinations"
	Bookings     = "bookings"
)

// Record is one schemaless catalog entry.
type Record = map[string]any

// Store reads and replaces whole collections. A missing collection loads as empty.
type Store interface {
	Load(ctx context.Context, collection string) ([]Record, error)
	Save(ctx context.Context, collection string, records []Record) error
}

func decodeRecords[T any](records []Record) ([]T, error) {
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	out := make([]T, 0, len(records))
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}

func toRecord(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return r, nil
}
