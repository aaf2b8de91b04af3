package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/go-concierge/internal/state"
	"github.com/basket/go-concierge/internal/supervisor"
)

// TemplateResponder is the degraded fallback: deterministic canned replies
// assembled from the business context. It never calls out and never fails,
// which is exactly what the breaker's fallback path needs.
type TemplateResponder struct{}

// NewTemplateResponder creates the fallback responder.
func NewTemplateResponder() *TemplateResponder {
	return &TemplateResponder{}
}

// GenerateResponse picks a canned reply for the routed stage.
func (r *TemplateResponder) GenerateResponse(_ context.Context, req Request) (string, error) {
	bc := req.Business
	st := req.State

	var reply string
	switch st.NextStage {
	case supervisor.StageUrgentCare:
		reply = fmt.Sprintf("Entendemos que es urgente. Un miembro del equipo de %s te contactara de inmediato para atenderte hoy mismo.", bc.BusinessName)
	case supervisor.StageEscalation:
		reply = fmt.Sprintf("Gracias por escribir a %s. Una persona de nuestro equipo te atendera en breve.", bc.BusinessName)
	case supervisor.StagePricing:
		reply = priceReply(bc)
	case supervisor.StageServices:
		reply = servicesReply(bc)
	case supervisor.StageBusinessInfo:
		reply = infoReply(bc)
	case supervisor.StageGreeting:
		reply = fmt.Sprintf("Hola, bienvenido a %s. ¿En que podemos ayudarte?", bc.BusinessName)
	case supervisor.StageInvoicing:
		reply = fmt.Sprintf("Con gusto emitimos tu factura. Compartenos tus datos fiscales y el equipo de %s la enviara a tu correo.", bc.BusinessName)
	default:
		if strings.HasSuffix(st.NextStage, "_booking") {
			reply = bookingReply(bc, st)
		} else {
			reply = fmt.Sprintf("Gracias por escribir a %s. En breve te respondemos; si es urgente llamanos al %s.", bc.BusinessName, bc.Phone)
		}
	}

	if st.Safety.SafetyDisclaimer != "" {
		reply = reply + "\n\n" + st.Safety.SafetyDisclaimer
	}
	return reply, nil
}

func bookingReply(bc state.BusinessContext, st *state.ConversationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Con gusto agendamos tu cita en %s.", bc.BusinessName)
	if st.Extracted.PreferredDate != "" {
		fmt.Fprintf(&b, " Tomamos nota de tu preferencia: %s.", st.Extracted.PreferredDate)
	}
	if bc.Hours != "" {
		fmt.Fprintf(&b, " Nuestro horario es %s.", bc.Hours)
	}
	b.WriteString(" ¿Que dia y hora te acomodan?")
	return b.String()
}

func priceReply(bc state.BusinessContext) string {
	var priced []string
	for _, svc := range bc.Services {
		if svc.Price != "" {
			priced = append(priced, fmt.Sprintf("%s: %s", svc.Name, svc.Price))
		}
	}
	if len(priced) == 0 {
		return fmt.Sprintf("Con gusto te compartimos precios. Escribenos que servicio te interesa o llamanos al %s.", bc.Phone)
	}
	return "Estos son nuestros precios: " + strings.Join(priced, ", ") + "."
}

func servicesReply(bc state.BusinessContext) string {
	if len(bc.Services) == 0 {
		return fmt.Sprintf("Ofrecemos varios servicios en %s. Cuentanos que necesitas y te orientamos.", bc.BusinessName)
	}
	names := make([]string, 0, len(bc.Services))
	for _, svc := range bc.Services {
		names = append(names, svc.Name)
	}
	return "Nuestros servicios: " + strings.Join(names, ", ") + ". ¿Cual te interesa?"
}

func infoReply(bc state.BusinessContext) string {
	var parts []string
	if bc.Hours != "" {
		parts = append(parts, "Horario: "+bc.Hours)
	}
	if bc.Address != "" {
		parts = append(parts, "Direccion: "+bc.Address)
	}
	if bc.Phone != "" {
		parts = append(parts, "Telefono: "+bc.Phone)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Gracias por tu interes en %s. En breve te compartimos la informacion.", bc.BusinessName)
	}
	return strings.Join(parts, ". ") + "."
}
