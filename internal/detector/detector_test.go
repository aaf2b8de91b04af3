package detector

import (
	"regexp"
	"testing"

	"github.com/basket/go-concierge/internal/state"
)

func TestDetectIntent_PriorityOrder(t *testing.T) {
	d := New(nil)

	tests := []struct {
		name string
		text string
		want state.Intent
	}{
		{"urgent pain", "me duele mucho la muela, no aguanto el dolor", state.IntentUrgentPain},
		{"urgency beats booking", "es urgente, necesito una cita hoy", state.IntentUrgentPain},
		{"human request", "quiero hablar con una persona por favor", state.IntentHumanRequest},
		{"human beats price", "quiero hablar con alguien sobre los precios", state.IntentHumanRequest},
		{"booking", "quiero agendar una cita para el viernes", state.IntentBooking},
		{"booking with diacritics", "¿Tienen disponibilidad para mañana?", state.IntentBooking},
		{"reschedule beats booking", "necesito cambiar mi cita", state.IntentReschedule},
		{"cancellation", "quiero cancelar mi reserva", state.IntentCancellation},
		{"price inquiry", "cuanto cuesta una limpieza", state.IntentPriceInquiry},
		{"price accented", "¿Cuánto cuesta el blanqueamiento?", state.IntentPriceInquiry},
		{"invoice", "me pueden mandar la factura", state.IntentInvoiceRequest},
		{"hours", "a que hora abren los sabados", state.IntentHoursInquiry},
		{"location", "donde estan ubicados", state.IntentLocationInquiry},
		{"greeting", "hola buenas tardes", state.IntentGreeting},
		{"greeting mid-sentence is not greeting", "gracias, hasta luego", state.IntentUnknown},
		{"unknown", "xyzzy", state.IntentUnknown},
		{"empty", "   ", state.IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.DetectIntent(tt.text); got != tt.want {
				t.Fatalf("DetectIntent(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectIntent_SubstitutedPatternTable(t *testing.T) {
	// Pattern tables are data: a minimal table drives detection without
	// touching the built-in Spanish set.
	d := New(&PatternSet{
		Version: "test",
		Entries: []PatternEntry{
			{Intent: state.IntentBooking, Patterns: []*regexp.Regexp{regexp.MustCompile(`book`)}},
		},
	})
	if got := d.DetectIntent("I want to BOOK a table"); got != state.IntentBooking {
		t.Fatalf("got %s, want BOOKING", got)
	}
	if got := d.DetectIntent("cuanto cuesta"); got != state.IntentUnknown {
		t.Fatalf("got %s, want UNKNOWN with minimal table", got)
	}
}

func TestDetectSignals_OncePerRule(t *testing.T) {
	d := New(nil)
	rules := []state.ScoringRule{
		{Name: "premium_service", Keywords: []string{"implante", "implantes"}, Points: 20},
		{Name: "whitening", Keywords: []string{"blanqueamiento"}, Points: 15},
		{Name: "never_matches", Keywords: []string{"ortodoncia"}, Points: 10},
	}

	signals := d.DetectSignals("quiero implantes, si, implantes y blanqueamiento", rules)
	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2: %v", len(signals), signals)
	}
	if signals[0].Name != "premium_service" || signals[0].Points != 20 {
		t.Fatalf("unexpected first signal: %+v", signals[0])
	}
	if signals[1].Name != "whitening" || signals[1].Points != 15 {
		t.Fatalf("unexpected second signal: %+v", signals[1])
	}
}

func TestDetectSignals_EmptyInputs(t *testing.T) {
	d := New(nil)
	if got := d.DetectSignals("", []state.ScoringRule{{Name: "x", Keywords: []string{"x"}, Points: 1}}); got != nil {
		t.Fatalf("expected nil signals for empty text, got %v", got)
	}
	if got := d.DetectSignals("hola", nil); got != nil {
		t.Fatalf("expected nil signals for no rules, got %v", got)
	}
}

func TestExtractData(t *testing.T) {
	d := New(nil)

	t.Run("email and phone", func(t *testing.T) {
		got := d.ExtractData("mi correo es ana.lopez@example.com y mi cel 55 1234 5678")
		if got.Email != "ana.lopez@example.com" {
			t.Fatalf("email = %q", got.Email)
		}
		if got.Phone != "5512345678" {
			t.Fatalf("phone = %q", got.Phone)
		}
	})

	t.Run("phone with country code", func(t *testing.T) {
		got := d.ExtractData("llamame al +52 55 1234 5678")
		if got.Phone != "525512345678" {
			t.Fatalf("phone = %q", got.Phone)
		}
	})

	t.Run("relative date", func(t *testing.T) {
		got := d.ExtractData("puedo ir mañana")
		if got.PreferredDate != "manana" {
			t.Fatalf("preferred date = %q", got.PreferredDate)
		}
	})

	t.Run("time preference does not double as date", func(t *testing.T) {
		got := d.ExtractData("mejor por la mañana")
		if got.TimePreference != "morning" {
			t.Fatalf("time preference = %q", got.TimePreference)
		}
		if got.PreferredDate != "" {
			t.Fatalf("preferred date = %q, want empty", got.PreferredDate)
		}
	})

	t.Run("date and time preference together", func(t *testing.T) {
		got := d.ExtractData("el viernes por la tarde")
		if got.PreferredDate != "viernes" {
			t.Fatalf("preferred date = %q", got.PreferredDate)
		}
		if got.TimePreference != "afternoon" {
			t.Fatalf("time preference = %q", got.TimePreference)
		}
	})

	t.Run("pain level", func(t *testing.T) {
		got := d.ExtractData("no aguanto el dolor")
		if got.PainLevel == nil || *got.PainLevel != 5 {
			t.Fatalf("pain level = %v, want 5", got.PainLevel)
		}
		got = d.ExtractData("tengo una molestia en la muela")
		if got.PainLevel == nil || *got.PainLevel != 2 {
			t.Fatalf("pain level = %v, want 2", got.PainLevel)
		}
		got = d.ExtractData("hola")
		if got.PainLevel != nil {
			t.Fatalf("pain level = %v, want nil", got.PainLevel)
		}
	})

	t.Run("price sensitivity", func(t *testing.T) {
		got := d.ExtractData("esta muy caro, tienen algo mas barato?")
		if !got.PriceSensitive {
			t.Fatal("expected price sensitive")
		}
	})

	t.Run("no matches yields zero value", func(t *testing.T) {
		got := d.ExtractData("gracias")
		if got != (state.ExtractedData{}) {
			t.Fatalf("expected zero value, got %+v", got)
		}
	})
}

func TestExtractedData_MergeIsNonDestructive(t *testing.T) {
	level := 4
	acc := state.ExtractedData{Email: "first@example.com", PainLevel: &level}
	acc.Merge(state.ExtractedData{Email: "second@example.com", Phone: "5512345678"})

	if acc.Email != "first@example.com" {
		t.Fatalf("email overwritten: %q", acc.Email)
	}
	if acc.Phone != "5512345678" {
		t.Fatalf("phone not added: %q", acc.Phone)
	}
	if acc.PainLevel == nil || *acc.PainLevel != 4 {
		t.Fatalf("pain level changed: %v", acc.PainLevel)
	}
}

func TestRefineWithVocabulary(t *testing.T) {
	vocab := []state.VocabularyTerm{
		{Term: "resina", Intent: state.IntentServiceInquiry},
		{Term: "empaste", Intent: state.IntentPriceInquiry},
		{Term: "basura", Intent: state.IntentUnknown}, // can never be an upgrade target
	}

	t.Run("upgrades unknown", func(t *testing.T) {
		got := RefineWithVocabulary(state.IntentUnknown, "necesito una resina", vocab)
		if got != state.IntentServiceInquiry {
			t.Fatalf("got %s, want SERVICE_INQUIRY", got)
		}
	})

	t.Run("never downgrades a confident result", func(t *testing.T) {
		got := RefineWithVocabulary(state.IntentUrgentPain, "resina urgente", vocab)
		if got != state.IntentUrgentPain {
			t.Fatalf("got %s, want URGENT_PAIN unchanged", got)
		}
	})

	t.Run("no match keeps primary", func(t *testing.T) {
		got := RefineWithVocabulary(state.IntentUnknown, "algo sin terminos", vocab)
		if got != state.IntentUnknown {
			t.Fatalf("got %s, want UNKNOWN", got)
		}
	})

	t.Run("low-confidence vocab target is skipped", func(t *testing.T) {
		got := RefineWithVocabulary(state.IntentUnknown, "eso es basura", vocab)
		if got != state.IntentUnknown {
			t.Fatalf("got %s, want UNKNOWN", got)
		}
	})
}

func TestParseGroupSize(t *testing.T) {
	if got := ParseGroupSize("mesa para 12 personas"); got != 12 {
		t.Fatalf("got %d, want 12", got)
	}
	if got := ParseGroupSize("sin numero"); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
