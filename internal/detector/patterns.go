package detector

import (
	"regexp"

	"github.com/basket/go-concierge/internal/state"
)

// PatternEntry binds an intent to its ordered pattern list. Patterns are
// matched against normalized text (lower-cased, diacritics stripped).
type PatternEntry struct {
	Intent   state.Intent
	Patterns []*regexp.Regexp
}

// PatternSet is a versioned, ordered intent pattern table. Entries are
// evaluated top to bottom and the first match wins, so the slice order IS the
// priority order: urgency > human-request > request types > commercial >
// informational > greeting.
type PatternSet struct {
	Version string
	Entries []PatternEntry
}

// DefaultPatterns returns the built-in Spanish-language pattern table.
// Tenants can ship a replacement table; tests substitute minimal ones.
func DefaultPatterns() *PatternSet {
	return &PatternSet{
		Version: "es-2026-06",
		Entries: []PatternEntry{
			{
				Intent: state.IntentUrgentPain,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`\b(urgente|urgencia|emergencia)\b`),
					regexp.MustCompile(`me duele`),
					regexp.MustCompile(`dolor (muy )?(fuerte|intenso|insoportable)`),
					regexp.MustCompile(`(mucho|muchisimo) dolor`),
					regexp.MustCompile(`no (aguanto|soporto)`),
					regexp.MustCompile(`se me (rompio|quebro|cayo) (un |el )?diente`),
				},
			},
			{
				Intent: state.IntentHumanRequest,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`hablar con (una? )?(persona|humano|alguien|asesora?)`),
					regexp.MustCompile(`(quiero|necesito) (un )?asesor`),
					regexp.MustCompile(`atencion humana`),
					regexp.MustCompile(`(comunicar|pasar)me con`),
					regexp.MustCompile(`no (quiero|eres) (un )?(bot|robot)`),
				},
			},
			{
				Intent: state.IntentReschedule,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`(cambiar|mover|reagendar|reprogramar) (mi |la |una )?(cita|reserva|reservacion|turno)`),
				},
			},
			{
				Intent: state.IntentCancellation,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`cancelar (mi |la |una )?(cita|reserva|reservacion|turno)?`),
				},
			},
			{
				Intent: state.IntentBooking,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`\b(cita|reservar|reserva|reservacion|agendar|apartar|turno)\b`),
					regexp.MustCompile(`mesa para \d+`),
					regexp.MustCompile(`(tienen|hay) (lugar|espacio|disponibilidad)`),
				},
			},
			{
				Intent: state.IntentInvoiceRequest,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`\b(factura|facturar|facturacion|comprobante fiscal)\b`),
				},
			},
			{
				Intent: state.IntentPriceInquiry,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`cuanto (cuesta|vale|sale|cobran)`),
					regexp.MustCompile(`\b(precio|precios|costo|costos|tarifa|tarifas|presupuesto)\b`),
				},
			},
			{
				Intent: state.IntentServiceInquiry,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`(hacen|ofrecen|manejan|realizan|tienen) .{0,40}(tratamiento|servicio|limpieza|blanqueamiento|menu)`),
					regexp.MustCompile(`\b(servicios|tratamientos)\b`),
					regexp.MustCompile(`que (servicios|tratamientos|opciones) (tienen|ofrecen|manejan)`),
				},
			},
			{
				Intent: state.IntentHoursInquiry,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`\b(horario|horarios)\b`),
					regexp.MustCompile(`a que hora (abren|cierran|atienden)`),
					regexp.MustCompile(`(abren|cierran|atienden) (hoy|manana|los)`),
				},
			},
			{
				Intent: state.IntentLocationInquiry,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`donde (estan|quedan|se (ubican|encuentran))`),
					regexp.MustCompile(`\b(direccion|ubicacion)\b`),
					regexp.MustCompile(`como (llego|llegar)`),
				},
			},
			{
				Intent: state.IntentGreeting,
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`^(hola|buenas|buenos dias|buenas tardes|buenas noches|hey|que tal)\b`),
				},
			},
		},
	}
}
