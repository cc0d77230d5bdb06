package tools

import (
	"fmt"
	"net/url"

	"github.com/travel-sense/server/internal/catalog"
)

// Tool names.
const (
	ToolSearchHotels          = "search_hotels"
	ToolSearchFlights         = "search_flights"
	ToolCreateItinerary       = "create_itinerary"
	ToolBookFlight            = "book_flight"
	ToolBookHotel             = "book_hotel"
	ToolSearchPackages        = "search_packages"
	ToolBookPackage           = "book_package"
	ToolGetCancellationPolicy = "get_cancellation_policy"
	ToolCheckBookingStatus    = "check_booking_status"
	ToolCancelBooking         = "cancel_booking"
	ToolGetBaggagePolicy      = "get_baggage_policy"
	ToolTrackFlight           = "track_flight"
	ToolViewBookings          = "view_bookings"
	ToolBookTrip              = "book_trip"
)

// maxResults caps every search result list.
const maxResults = 10

const documentsBaseURL = "https://travel-bot.com"

// Options tune tool output.
type Options struct {
	// ResultsURL, when set, is linked from search summaries.
	ResultsURL string `envconfig:"TOOLS_RESULTS_URL"`
}

func (o Options) resultsLink(kind string, query url.Values) string {
	if o.ResultsURL == "" {
		return ""
	}
	query.Set("type", kind)
	return fmt.Sprintf(" [View detailed results](%s?%s)", o.ResultsURL, query.Encode())
}

// NewTravelRegistry registers every travel tool backed by cat.
func NewTravelRegistry(cat *catalog.Catalog, opts Options) (*Registry, error) {
	descs, err := loadDescriptions()
	if err != nil {
		return nil, err
	}

	r := &Registry{tools: map[string]*Tool{}}
	all := []*Tool{
		searchHotelsTool(cat, opts),
		searchFlightsTool(cat, opts),
		createItineraryTool(cat),
		bookFlightTool(cat),
		bookHotelTool(cat),
		searchPackagesTool(cat, opts),
		bookPackageTool(cat),
		cancellationPolicyTool(),
		bookingStatusTool(cat),
		cancelBookingTool(cat),
		baggagePolicyTool(),
		trackFlightTool(),
		viewBookingsTool(cat),
		bookTripTool(r),
	}
	for _, t := range all {
		d, ok := descs[t.Name]
		if !ok || d.Desc == "" {
			return nil, fmt.Errorf("tool %q has no description", t.Name)
		}
		t.Desc = d.Desc
		t.Document = d.Document
		if t.Document == "" {
			t.Document = d.Desc
		}
		if err := r.add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
