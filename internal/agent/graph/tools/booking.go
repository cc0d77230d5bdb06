package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/catalog"
)

const statusConfirmed = "Confirmed"

// Booking types.
const (
	BookingFlight  = "flight"
	BookingHotel   = "hotel"
	BookingPackage = "package"
)

// ===================================
// Book Flight Tool
// ===================================

type BookFlightInput struct {
	FlightID       string   `json:"flight_id" validate:"required"`
	NumTravelers   int      `json:"num_travelers" validate:"required,min=1"`
	PassengerNames []string `json:"passenger_names" validate:"required,min=1,dive,required"`
}

type FlightBooking struct {
	BookingID  string         `json:"booking_id"`
	Flight     catalog.Flight `json:"flight"`
	Passengers []string       `json:"passengers"`
	TotalPrice float64        `json:"total_price"`
	Status     string         `json:"status"`
	TicketPDF  string         `json:"ticket_pdf"`
	Type       string         `json:"type"`
}

func bookFlightTool(cat *catalog.Catalog) *Tool {
	return Define(ToolBookFlight, "", map[string]*schema.ParameterInfo{
		"flight_id":     {Type: schema.String, Desc: "Flight id from search results", Required: true},
		"num_travelers": {Type: schema.Integer, Desc: "Number of travelers", Required: true},
		"passenger_names": {
			Type:     schema.Array,
			ElemInfo: &schema.ParameterInfo{Type: schema.String},
			Desc:     "Full names of all passengers",
			Required: true,
		},
	}, func(ctx context.Context, in *BookFlightInput) (model.Envelope, error) {
		flights, err := cat.Flights(ctx)
		if err != nil {
			return model.Envelope{}, err
		}
		var flight *catalog.Flight
		for i := range flights {
			if flights[i].ID == in.FlightID {
				flight = &flights[i]
				break
			}
		}
		if flight == nil {
			return model.Failure("Flight ID not found.", "Flight ID not found"), nil
		}

		id := fmt.Sprintf("BKG-%s-%d", in.FlightID, in.NumTravelers)
		booking := FlightBooking{
			BookingID:  id,
			Flight:     *flight,
			Passengers: in.PassengerNames,
			TotalPrice: flight.Price * float64(in.NumTravelers),
			Status:     statusConfirmed,
			TicketPDF:  fmt.Sprintf("%s/tickets/%s.pdf", documentsBaseURL, id),
			Type:       BookingFlight,
		}
		if _, err := cat.AppendBooking(ctx, booking); err != nil {
			return model.Envelope{}, err
		}
		return model.Success("Flight booked successfully! Ticket sent to "+booking.TicketPDF, booking), nil
	})
}

// ===================================
// Book Hotel Tool
// ===================================

type BookHotelInput struct {
	HotelID  string `json:"hotel_id" validate:"required"`
	CheckIn  string `json:"check_in" validate:"required"`
	CheckOut string `json:"check_out" validate:"required"`
	RoomType string `json:"room_type" validate:"required"`
	Guests   int    `json:"guests" validate:"required,min=1"`
}

type HotelBooking struct {
	BookingID  string `json:"booking_id"`
	HotelName  string `json:"hotel_name"`
	Dates      string `json:"dates"`
	RoomType   string `json:"room_type"`
	Guests     int    `json:"guests"`
	Status     string `json:"status"`
	InvoicePDF string `json:"invoice_pdf"`
	Type       string `json:"type"`
}

func bookHotelTool(cat *catalog.Catalog) *Tool {
	return Define(ToolBookHotel, "", map[string]*schema.ParameterInfo{
		"hotel_id":  {Type: schema.String, Desc: "Hotel id from search results", Required: true},
		"check_in":  {Type: schema.String, Desc: "Check-in date, YYYY-MM-DD", Required: true},
		"check_out": {Type: schema.String, Desc: "Check-out date, YYYY-MM-DD", Required: true},
		"room_type": {Type: schema.String, Desc: "Room type, e.g. Deluxe, Suite", Required: true},
		"guests":    {Type: schema.Integer, Desc: "Number of guests", Required: true},
	}, func(ctx context.Context, in *BookHotelInput) (model.Envelope, error) {
		hotels, err := cat.Hotels(ctx)
		if err != nil {
			return model.Envelope{}, err
		}
		var hotel *catalog.Hotel
		for i := range hotels {
			if hotels[i].ID == in.HotelID {
				hotel = &hotels[i]
				break
			}
		}
		if hotel == nil {
			return model.Failure("Hotel ID not found.", "Hotel ID not found"), nil
		}

		id := fmt.Sprintf("HTL-%s-%s", in.HotelID, strings.ToUpper(prefix(in.RoomType, 3)))
		booking := HotelBooking{
			BookingID:  id,
			HotelName:  hotel.Name,
			Dates:      in.CheckIn + " to " + in.CheckOut,
			RoomType:   in.RoomType,
			Guests:     in.Guests,
			Status:     statusConfirmed,
			InvoicePDF: fmt.Sprintf("%s/invoices/%s.pdf", documentsBaseURL, id),
			Type:       BookingHotel,
		}
		if _, err := cat.AppendBooking(ctx, booking); err != nil {
			return model.Envelope{}, err
		}
		return model.Success("Hotel booked successfully! Invoice: "+booking.InvoicePDF, booking), nil
	})
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

// ===================================
// Book Package Tool
// ===================================

type BookPackageInput struct {
	PackageID     string `json:"package_id" validate:"required"`
	TravelDate    string `json:"travel_date" validate:"required"`
	Travelers     int    `json:"travelers" validate:"required,min=1"`
	Customization string `json:"customization"`
}

type PackageBooking struct {
	BookingID     string `json:"booking_id"`
	Package       string `json:"package"`
	Destination   string `json:"destination"`
	Date          string `json:"date"`
	Travelers     int    `json:"travelers"`
	Customization string `json:"customization"`
	Status        string `json:"status"`
	DocsLink      string `json:"docs_link"`
	Type          string `json:"type"`
}

func bookPackageTool(cat *catalog.Catalog) *Tool {
	return Define(ToolBookPackage, "", map[string]*schema.ParameterInfo{
		"package_id":    {Type: schema.String, Desc: "Package id from search results", Required: true},
		"travel_date":   {Type: schema.String, Desc: "Start date, YYYY-MM-DD", Required: true},
		"travelers":     {Type: schema.Integer, Desc: "Number of travelers", Required: true},
		"customization": {Type: schema.String, Desc: "Optional special requests"},
	}, func(ctx context.Context, in *BookPackageInput) (model.Envelope, error) {
		packages, err := cat.Packages(ctx)
		if err != nil {
			return model.Envelope{}, err
		}
		var pkg *catalog.Package
		for i := range packages {
			if packages[i].ID == in.PackageID {
				pkg = &packages[i]
				break
			}
		}
		if pkg == nil {
			return model.Failure("Package ID not found.", "Package ID not found"), nil
		}

		id := fmt.Sprintf("PKG-%s-%d", in.PackageID, in.Travelers)
		booking := PackageBooking{
			BookingID:     id,
			Package:       pkg.Name,
			Destination:   pkg.Destination,
			Date:          in.TravelDate,
			Travelers:     in.Travelers,
			Customization: in.Customization,
			Status:        statusConfirmed,
			DocsLink:      fmt.Sprintf("%s/docs/%s.zip", documentsBaseURL, id),
			Type:          BookingPackage,
		}
		if _, err := cat.AppendBooking(ctx, booking); err != nil {
			return model.Envelope{}, err
		}
		return model.Success("Package booked! Documents: "+booking.DocsLink, booking), nil
	})
}

// ===================================
// Book Trip Tool
// ===================================

type BookTripInput struct {
	BookingType string         `json:"booking_type" validate:"required,oneof=flight hotel package"`
	Details     map[string]any `json:"details" validate:"required"`
}

// bookTripTool dispatches to the book_* tool named by booking_type with details as its arguments.
func bookTripTool(r *Registry) *Tool {
	return Define(ToolBookTrip, "", map[string]*schema.ParameterInfo{
		"booking_type": {
			Type:     schema.String,
			Desc:     "What to book",
			Enum:     []string{BookingFlight, BookingHotel, BookingPackage},
			Required: true,
		},
		"details": {Type: schema.Object, Desc: "Arguments of the matching book_flight, book_hotel or book_package tool", Required: true},
	}, func(ctx context.Context, in *BookTripInput) (model.Envelope, error) {
		target, ok := r.Get("book_" + in.BookingType)
		if !ok {
			return model.Failure("Unsupported booking type.", "unknown booking type "+in.BookingType), nil
		}
		raw, err := json.Marshal(in.Details)
		if err != nil {
			return model.Envelope{}, err
		}
		args, err := NormalizeArguments(target, string(raw))
		if err != nil {
			return model.Failure("Invalid payload: "+err.Error(), err.Error()), nil
		}
		return target.run(ctx, args)
	})
}

// ===================================
// View Bookings Tool
// ===================================

type ViewBookingsInput struct {
	BookingType string `json:"booking_type"`
}

func viewBookingsTool(cat *catalog.Catalog) *Tool {
	return Define(ToolViewBookings, "", map[string]*schema.ParameterInfo{
		"booking_type": {Type: schema.String, Desc: "Optional filter: flight, hotel or package"},
	}, func(ctx context.Context, in *ViewBookingsInput) (model.Envelope, error) {
		bookings, err := cat.Bookings(ctx)
		if err != nil {
			return model.Envelope{}, err
		}

		kind := strings.TrimSuffix(strings.ToLower(in.BookingType), "s")
		results := []catalog.Booking{}
		for _, b := range bookings {
			if t, _ := b["type"].(string); kind == "" || t == kind {
				results = append(results, b)
			}
		}
		if len(results) == 0 {
			return model.Success("No bookings found.", results), nil
		}
		return model.Success(fmt.Sprintf("Found %d booking(s).", len(results)), results).WithTable(), nil
	})
}
