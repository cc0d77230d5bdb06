package tools

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/catalog"
)

// ===================================
// Search Hotels Tool
// ===================================

type SearchHotelsInput struct {
	Location  string  `json:"location" validate:"required"`
	CheckIn   string  `json:"check_in" validate:"required"`
	Budget    float64 `json:"budget" validate:"gte=0"`
	Guests    int     `json:"guests" validate:"gte=1"`
	MinRating float64 `json:"min_rating" validate:"gte=0,lte=5"`
}

func (in *SearchHotelsInput) setDefaults() { in.Guests = 2 }

func searchHotelsTool(cat *catalog.Catalog, opts Options) *Tool {
	return Define(ToolSearchHotels, "", map[string]*schema.ParameterInfo{
		"location":   {Type: schema.String, Desc: "City, region or hotel name, e.g. Maldives, Goa", Required: true},
		"check_in":   {Type: schema.String, Desc: "Check-in date, YYYY-MM-DD", Required: true},
		"budget":     {Type: schema.Number, Desc: "Maximum price per night in INR. 0 means no limit"},
		"guests":     {Type: schema.Integer, Desc: "Number of guests (default 2)"},
		"min_rating": {Type: schema.Number, Desc: "Minimum hotel rating from 0 to 5"},
	}, func(ctx context.Context, in *SearchHotelsInput) (model.Envelope, error) {
		hotels, err := cat.Hotels(ctx)
		if err != nil {
			return model.Envelope{}, err
		}

		loc := strings.ToLower(in.Location)
		results := []catalog.Hotel{}
		for _, h := range hotels {
			if !strings.Contains(strings.ToLower(h.Location), loc) && !strings.Contains(strings.ToLower(h.Name), loc) {
				continue
			}
			price := h.PricePerNight
			if avail, ok := h.Availability[in.CheckIn]; ok {
				if avail.Status != "available" {
					continue
				}
				if avail.Price > 0 {
					price = avail.Price
				}
			}
			if in.Budget > 0 && price > in.Budget {
				continue
			}
			if in.MinRating > 0 && h.Rating < in.MinRating {
				continue
			}
			h.PricePerNight = price
			h.Availability = nil
			results = append(results, h)
			if len(results) == maxResults {
				break
			}
		}

		if len(results) == 0 {
			return model.Success(
				fmt.Sprintf("No hotels found in %s for %s within constraints.", in.Location, in.CheckIn),
				results,
			), nil
		}
		text := fmt.Sprintf("Found %d hotels in %s.", len(results), in.Location) +
			opts.resultsLink("hotels", url.Values{"location": {in.Location}})
		return model.Success(text, results).WithSearchType(model.SearchTypeHotel), nil
	})
}

// ===================================
// Search Flights Tool
// ===================================

type SearchFlightsInput struct {
	Origin      string `json:"origin" validate:"required"`
	Destination string `json:"destination" validate:"required"`
	Date        string `json:"date" validate:"required"`
	Airline     string `json:"airline"`
}

func searchFlightsTool(cat *catalog.Catalog, opts Options) *Tool {
	return Define(ToolSearchFlights, "", map[string]*schema.ParameterInfo{
		"origin":      {Type: schema.String, Desc: "Departure city", Required: true},
		"destination": {Type: schema.String, Desc: "Arrival city", Required: true},
		"date":        {Type: schema.String, Desc: "Travel date, YYYY-MM-DD", Required: true},
		"airline":     {Type: schema.String, Desc: "Optional airline name filter"},
	}, func(ctx context.Context, in *SearchFlightsInput) (model.Envelope, error) {
		flights, err := cat.Flights(ctx)
		if err != nil {
			return model.Envelope{}, err
		}

		airline := strings.ToLower(in.Airline)
		results := []catalog.Flight{}
		for _, f := range flights {
			if !strings.EqualFold(f.Origin, in.Origin) || !strings.EqualFold(f.Destination, in.Destination) {
				continue
			}
			if airline != "" && !strings.Contains(strings.ToLower(f.Airline), airline) {
				continue
			}
			results = append(results, f)
			if len(results) == maxResults {
				break
			}
		}

		if len(results) == 0 {
			return model.Success(fmt.Sprintf("No flights found from %s to %s.", in.Origin, in.Destination), results), nil
		}
		text := fmt.Sprintf("Found %d flights from %s to %s.", len(results), in.Origin, in.Destination) +
			opts.resultsLink("flights", url.Values{"origin": {in.Origin}, "destination": {in.Destination}})
		return model.Success(text, results).WithSearchType(model.SearchTypeFlight), nil
	})
}

// ===================================
// Search Packages Tool
// ===================================

type SearchPackagesInput struct {
	Destination string  `json:"destination"`
	Duration    string  `json:"duration"`
	Budget      float64 `json:"budget" validate:"gte=0"`
	PackageType string  `json:"package_type"`
}

func searchPackagesTool(cat *catalog.Catalog, opts Options) *Tool {
	return Define(ToolSearchPackages, "", map[string]*schema.ParameterInfo{
		"destination":  {Type: schema.String, Desc: "Destination name"},
		"duration":     {Type: schema.String, Desc: "Trip duration, e.g. 5 days"},
		"budget":       {Type: schema.Number, Desc: "Maximum package price in INR. 0 means no limit"},
		"package_type": {Type: schema.String, Desc: "Package type, e.g. honeymoon, family, adventure"},
	}, func(ctx context.Context, in *SearchPackagesInput) (model.Envelope, error) {
		packages, err := cat.Packages(ctx)
		if err != nil {
			return model.Envelope{}, err
		}

		dest := strings.ToLower(in.Destination)
		results := []catalog.Package{}
		for _, p := range packages {
			if dest != "" && !strings.Contains(strings.ToLower(p.Destination), dest) {
				continue
			}
			if in.PackageType != "" && !strings.EqualFold(p.Type, in.PackageType) {
				continue
			}
			if in.Budget > 0 && p.Price > in.Budget {
				continue
			}
			results = append(results, p)
			if len(results) == maxResults {
				break
			}
		}

		if len(results) == 0 {
			return model.Success("No packages found matching criteria.", results), nil
		}
		query := url.Values{}
		if in.Destination != "" {
			query.Set("destination", in.Destination)
		}
		text := fmt.Sprintf("Found %d packages.", len(results)) + opts.resultsLink("packages", query)
		return model.Success(text, results).WithSearchType(model.SearchTypePackage), nil
	})
}

// ===================================
// Create Itinerary Tool
// ===================================

type CreateItineraryInput struct {
	Destination  string  `json:"destination" validate:"required"`
	DurationDays int     `json:"duration_days" validate:"required,min=1"`
	Purpose      string  `json:"purpose" validate:"required"`
	Budget       float64 `json:"budget" validate:"gte=0"`
}

func (in *CreateItineraryInput) setDefaults() { in.Budget = 5000 }

type Itinerary struct {
	Destination string   `json:"destination"`
	Duration    int      `json:"duration"`
	Purpose     string   `json:"purpose"`
	Itinerary   []string `json:"itinerary"`
}

func createItineraryTool(cat *catalog.Catalog) *Tool {
	return Define(ToolCreateItinerary, "", map[string]*schema.ParameterInfo{
		"destination":   {Type: schema.String, Desc: "Destination city", Required: true},
		"duration_days": {Type: schema.Integer, Desc: "Number of days", Required: true},
		"purpose":       {Type: schema.String, Desc: "Trip purpose, e.g. leisure, adventure, business", Required: true},
		"budget":        {Type: schema.Number, Desc: "Total budget in INR (default 5000)"},
	}, func(ctx context.Context, in *CreateItineraryInput) (model.Envelope, error) {
		destinations, err := cat.Destinations(ctx)
		if err != nil {
			return model.Envelope{}, err
		}

		var city *catalog.Destination
		for i := range destinations {
			if strings.EqualFold(destinations[i].City, in.Destination) {
				city = &destinations[i]
				break
			}
		}
		if city == nil {
			return model.Failure(
				fmt.Sprintf("Sorry, we don't have itinerary data for %s yet.", in.Destination),
				"Destination not found",
			), nil
		}

		activities, ok := purposeActivities(city, in.Purpose)
		if !ok {
			return model.Failure(fmt.Sprintf("No activities found for %s.", in.Destination), "No activities"), nil
		}
		if len(activities) > in.DurationDays {
			activities = activities[:in.DurationDays]
		}

		text := fmt.Sprintf("Generated %d-day %s itinerary for %s within %.2f INR.",
			len(activities), in.Purpose, in.Destination, in.Budget)
		return model.Success(text, Itinerary{
			Destination: in.Destination,
			Duration:    in.DurationDays,
			Purpose:     in.Purpose,
			Itinerary:   activities,
		}).WithSearchType(model.SearchTypeItinerary), nil
	})
}

// purposeActivities matches purpose case-insensitively and falls back to the
// first declared purpose.
func purposeActivities(d *catalog.Destination, purpose string) ([]string, bool) {
	for key, acts := range d.Activities {
		if strings.EqualFold(key, purpose) {
			return acts, true
		}
	}
	order := d.Purposes
	if len(order) == 0 {
		order = sortedKeys(d.Activities)
	}
	for _, key := range order {
		if acts, ok := d.Activities[key]; ok {
			return acts, true
		}
	}
	return nil, false
}
