package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/catalog"
)

var cancellationPolicies = map[string]string{
	BookingFlight:  "Free cancellation up to 24 hours before departure. 50% refund thereafter.",
	BookingHotel:   "Free cancellation up to 48 hours before check-in.",
	BookingPackage: "Non-refundable if cancelled within 7 days of travel.",
}

const statusCancelled = "Cancelled"

type CancellationPolicyInput struct {
	BookingType string `json:"booking_type" validate:"required"`
}

func cancellationPolicyTool() *Tool {
	return Define(ToolGetCancellationPolicy, "", map[string]*schema.ParameterInfo{
		"booking_type": {Type: schema.String, Desc: "One of flight, hotel, package", Required: true},
	}, func(_ context.Context, in *CancellationPolicyInput) (model.Envelope, error) {
		policy, ok := cancellationPolicies[strings.ToLower(in.BookingType)]
		if !ok {
			policy = "Policy not found for this type."
		}
		return model.Success("Retrieved policy.", policy), nil
	})
}

type BookingStatusInput struct {
	BookingID string `json:"booking_id" validate:"required"`
}

type BookingStatus struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// bookingStatusTool prefers the stored booking status. Unknown ids are
// reported as cancelled when they carry a CAN marker, confirmed otherwise.
func bookingStatusTool(cat *catalog.Catalog) *Tool {
	return Define(ToolCheckBookingStatus, "", map[string]*schema.ParameterInfo{
		"booking_id": {Type: schema.String, Desc: "Booking id", Required: true},
	}, func(ctx context.Context, in *BookingStatusInput) (model.Envelope, error) {
		status := statusConfirmed
		if strings.Contains(in.BookingID, "CAN") {
			status = statusCancelled
		}
		b, found, err := cat.FindBooking(ctx, in.BookingID)
		if err != nil {
			return model.Envelope{}, err
		}
		if found {
			if s, _ := b["status"].(string); s != "" {
				status = s
			}
		}
		return model.Success("Status is "+status, BookingStatus{BookingID: in.BookingID, Status: status}), nil
	})
}

type CancelBookingInput struct {
	BookingID string `json:"booking_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

func cancelBookingTool(cat *catalog.Catalog) *Tool {
	return Define(ToolCancelBooking, "", map[string]*schema.ParameterInfo{
		"booking_id": {Type: schema.String, Desc: "Booking id", Required: true},
		"reason":     {Type: schema.String, Desc: "Reason for cancellation", Required: true},
	}, func(ctx context.Context, in *CancelBookingInput) (model.Envelope, error) {
		found, err := cat.UpdateBookingStatus(ctx, in.BookingID, statusCancelled)
		if err != nil {
			return model.Envelope{}, err
		}
		if !found {
			return model.Failure("Booking ID not found.", "Booking ID not found"), nil
		}
		return model.Success(
			"Booking has been cancelled. Refund will be processed in 5-7 days.",
			BookingStatus{BookingID: in.BookingID, Status: statusCancelled, Reason: in.Reason},
		), nil
	})
}

type BaggagePolicyInput struct {
	Airline string `json:"airline" validate:"required"`
}

func baggagePolicyTool() *Tool {
	return Define(ToolGetBaggagePolicy, "", map[string]*schema.ParameterInfo{
		"airline": {Type: schema.String, Desc: "Name of the airline", Required: true},
	}, func(_ context.Context, in *BaggagePolicyInput) (model.Envelope, error) {
		return model.Success(fmt.Sprintf("Baggage policy for %s.", in.Airline), "15kg check-in, 7kg cabin."), nil
	})
}

type TrackFlightInput struct {
	FlightNumber string `json:"flight_number" validate:"required"`
	Date         string `json:"date" validate:"required"`
}

func trackFlightTool() *Tool {
	return Define(ToolTrackFlight, "", map[string]*schema.ParameterInfo{
		"flight_number": {Type: schema.String, Desc: "Flight number, e.g. 6E-101", Required: true},
		"date":          {Type: schema.String, Desc: "Date of flight, YYYY-MM-DD", Required: true},
	}, func(_ context.Context, in *TrackFlightInput) (model.Envelope, error) {
		return model.Success(fmt.Sprintf("Flight %s is on time.", in.FlightNumber), "On Time"), nil
	})
}
