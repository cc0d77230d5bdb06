package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type Availability struct {
	Status string  `json:"status"`
	Price  float64 `json:"price,omitempty"`
}

type Hotel struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Location      string                  `json:"location"`
	PricePerNight float64                 `json:"price_per_night"`
	Rating        float64                 `json:"rating"`
	Amenities     []string                `json:"amenities,omitempty"`
	Image         string                  `json:"image,omitempty"`
	Availability  map[string]Availability `json:"availability,omitempty"`
}

type Flight struct {
	ID            string  `json:"id"`
	Airline       string  `json:"airline"`
	FlightNumber  string  `json:"flight_number,omitempty"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	DepartureTime string  `json:"departure_time,omitempty"`
	ArrivalTime   string  `json:"arrival_time,omitempty"`
	Duration      string  `json:"duration,omitempty"`
	Stops         int     `json:"stops"`
	Price         float64 `json:"price"`
}

type Package struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Destination string   `json:"destination"`
	Duration    string   `json:"duration"`
	Price       float64  `json:"price"`
	Type        string   `json:"type"`
	Inclusions  []string `json:"inclusions,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
}

// Destination lists activities per trip purpose, in day order.
type Destination struct {
	City       string              `json:"city"`
	Activities map[string][]string `json:"activities"`
	// Purposes keeps the declaration order of Activities keys for fallbacks.
	Purposes []string `json:"purposes,omitempty"`
}

// Booking is kept as a record so each booking type can carry its own fields.
// booking_id, type and status are always present.
type Booking = Record

// Catalog exposes typed reads over a Store and serialises booking appends.
type Catalog struct {
	store Store
	mu    sync.Mutex
}

func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// Store returns the underlying store.
func (c *Catalog) Store() Store {
	return c.store
}

func load[T any](ctx context.Context, c *Catalog, collection string) ([]T, error) {
	records, err := c.store.Load(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", collection, err)
	}
	return decodeRecords[T](records)
}

func (c *Catalog) Hotels(ctx context.Context) ([]Hotel, error) {
	return load[Hotel](ctx, c, Hotels)
}

func (c *Catalog) Flights(ctx context.Context) ([]Flight, error) {
	return load[Flight](ctx, c, Flights)
}

func (c *Catalog) Packages(ctx context.Context) ([]Package, error) {
	return load[Package](ctx, c, Packages)
}

func (c *Catalog) Destinations(ctx context.Context) ([]Destination, error) {
	return load[Destination](ctx, c, Destinations)
}

func (c *Catalog) Bookings(ctx context.Context) ([]Booking, error) {
	records, err := c.store.Load(ctx, Bookings)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", Bookings, err)
	}
	return records, nil
}

// AppendBooking adds a booking with read/replace semantics. Appends from this
// process are serialised; duplicates are allowed.
func (c *Catalog) AppendBooking(ctx context.Context, booking any) (Booking, error) {
	rec, err := toRecord(booking)
	if err != nil {
		return nil, fmt.Errorf("encode booking: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.Load(ctx, Bookings)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", Bookings, err)
	}
	existing = append(existing, rec)
	if err := c.store.Save(ctx, Bookings, existing); err != nil {
		return nil, fmt.Errorf("save %s: %w", Bookings, err)
	}
	return rec, nil
}

// Raw returns a collection as JSON, used by the data download endpoint.
func (c *Catalog) Raw(ctx context.Context, collection string) ([]byte, error) {
	records, err := c.store.Load(ctx, collection)
	if err != nil {
		return nil, err
	}
	return json.Marshal(records)
}

// FindBooking returns the booking with the given id.
func (c *Catalog) FindBooking(ctx context.Context, id string) (Booking, bool, error) {
	records, err := c.Bookings(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, r := range records {
		if bid, _ := r["booking_id"].(string); bid == id {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// UpdateBookingStatus rewrites the status of every booking with the given id.
// It reports false when no booking matched.
func (c *Catalog) UpdateBookingStatus(ctx context.Context, id, status string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.store.Load(ctx, Bookings)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", Bookings, err)
	}
	found := false
	for _, r := range records {
		if bid, _ := r["booking_id"].(string); bid == id {
			r["status"] = status
			found = true
		}
	}
	if !found {
		return false, nil
	}
	if err := c.store.Save(ctx, Bookings, records); err != nil {
		return false, fmt.Errorf("save %s: %w", Bookings, err)
	}
	return true, nil
}
