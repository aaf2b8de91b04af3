package supervisor

import (
	"github.com/basket/go-concierge/internal/state"
)

// Processing stages a turn can be routed to. Stage names are part of the
// supervisor output contract consumed by downstream agents and the UI.
const (
	StageEscalation   = "escalation"
	StageUrgentCare   = "urgent_care"
	StagePricing      = "pricing"
	StageServices     = "services"
	StageBusinessInfo = "business_info"
	StageGreeting     = "greeting"
	StageGeneral      = "general"
	StageInvoicing    = "restaurant_invoicing"
)

// intentStages is the fixed intent-to-stage table for non-escalated turns.
// Booking-family and invoice intents are handled separately because their
// stage depends on the vertical.
var intentStages = map[state.Intent]string{
	state.IntentPriceInquiry:    StagePricing,
	state.IntentServiceInquiry:  StageServices,
	state.IntentHoursInquiry:    StageBusinessInfo,
	state.IntentLocationInquiry: StageBusinessInfo,
	state.IntentGreeting:        StageGreeting,
	state.IntentUnknown:         StageGeneral,
}

// bookingStage returns the vertical-specific booking stage.
func bookingStage(v state.Vertical) string {
	switch v {
	case state.VerticalDental, state.VerticalMedical, state.VerticalRestaurant, state.VerticalBeauty:
		return string(v) + "_booking"
	default:
		return "general_booking"
	}
}

// stageFor maps a non-escalated turn to its processing stage.
func stageFor(intent state.Intent, vertical state.Vertical) string {
	switch intent {
	case state.IntentBooking, state.IntentReschedule, state.IntentCancellation:
		return bookingStage(vertical)
	case state.IntentInvoiceRequest:
		// Invoicing is a restaurant workflow; other verticals answer invoice
		// questions through the general stage.
		if vertical == state.VerticalRestaurant {
			return StageInvoicing
		}
		return StageGeneral
	}
	if stage, ok := intentStages[intent]; ok {
		return stage
	}
	return StageGeneral
}
