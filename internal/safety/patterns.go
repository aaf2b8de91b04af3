package safety

import (
	"regexp"

	"github.com/basket/go-concierge/internal/state"
)

// Recommended actions attached to emergency tiers.
const (
	ActionEscalateImmediate = "escalate_immediate"
	ActionUrgentCare        = "urgent_care"
	ActionPriorityBooking   = "priority_booking"
)

// EmergencyTier is one severity band of vertical-specific emergency patterns.
// Tiers are evaluated in slice order, critical first.
type EmergencyTier struct {
	Type      string
	Severity  int
	Action    string
	Emergency bool
	Message   string
	Patterns  []*regexp.Regexp
}

// PatternConfig is a versioned, vertical-scoped safety pattern table.
// Tests substitute minimal tables; production uses DefaultPatternConfig.
type PatternConfig struct {
	Version        string
	EmergencyTiers map[state.Vertical][]EmergencyTier
	Accident       []*regexp.Regexp

	SevereAllergy   []*regexp.Regexp
	ModerateAllergy []*regexp.Regexp
	// MedicalConditions maps a canonical condition name to its patterns.
	MedicalConditions map[string]*regexp.Regexp

	EventTypes   map[string]*regexp.Regexp
	Requirements map[string]*regexp.Regexp
	GroupSize    []*regexp.Regexp
}

// DefaultPatternConfig returns the built-in Spanish-language safety table.
func DefaultPatternConfig() *PatternConfig {
	return &PatternConfig{
		Version: "es-2026-06",
		EmergencyTiers: map[state.Vertical][]EmergencyTier{
			state.VerticalDental: {
				{
					Type: "dental_critical", Severity: 5, Action: ActionEscalateImmediate, Emergency: true,
					Message: "Emergencia dental critica detectada. Contacta al paciente de inmediato.",
					Patterns: []*regexp.Regexp{
						regexp.MustCompile(`sangrado (que )?no (para|se detiene)`),
						regexp.MustCompile(`se me salio (un |el )?diente`),
						regexp.MustCompile(`golpe (muy )?fuerte en la (boca|cara|mandibula)`),
						regexp.MustCompile(`no puedo (respirar|tragar|abrir la boca)`),
						regexp.MustCompile(`hinchazon .{0,30}(garganta|cuello)`),
						regexp.MustCompile(`(me desmaye|perdi el conocimiento)`),
					},
				},
				{
					Type: "dental_severe", Severity: 4, Action: ActionUrgentCare, Emergency: true,
					Message: "Urgencia dental detectada. Ofrecer atencion el mismo dia.",
					Patterns: []*regexp.Regexp{
						regexp.MustCompile(`no (aguanto|soporto) el dolor`),
						regexp.MustCompile(`dolor insoportable`),
						regexp.MustCompile(`me duele (mucho|muchisimo)`),
						regexp.MustCompile(`\babsceso\b`),
						regexp.MustCompile(`(cara|mejilla) hinchada`),
						regexp.MustCompile(`diente (roto|fracturado|flojo)`),
						regexp.MustCompile(`\bsangrado\b`),
					},
				},
				{
					Type: "dental_moderate", Severity: 2, Action: ActionPriorityBooking, Emergency: false,
					Message: "Molestia dental. Ofrecer cita prioritaria.",
					Patterns: []*regexp.Regexp{
						regexp.MustCompile(`dolor de (muela|diente)`),
						regexp.MustCompile(`me duele`),
						regexp.MustCompile(`sensibilidad`),
						regexp.MustCompile(`se me cayo (una? )?(calza|empaste|corona|resina)`),
					},
				},
			},
			state.VerticalMedical: {
				{
					Type: "medical_critical", Severity: 5, Action: ActionEscalateImmediate, Emergency: true,
					Message: "Emergencia medica critica detectada. Derivar a urgencias de inmediato.",
					Patterns: []*regexp.Regexp{
						regexp.MustCompile(`dolor en el pecho`),
						regexp.MustCompile(`no puedo respirar`),
						regexp.MustCompile(`(desmayo|inconsciente|convulsiones)`),
						regexp.MustCompile(`sangrado abundante`),
						regexp.MustCompile(`labios (morados|azules)`),
					},
				},
				{
					Type: "medical_severe", Severity: 4, Action: ActionUrgentCare, Emergency: true,
					Message: "Urgencia medica detectada. Ofrecer atencion el mismo dia.",
					Patterns: []*regexp.Regexp{
						regexp.MustCompile(`fiebre (muy )?alta`),
						regexp.MustCompile(`no (aguanto|soporto) el dolor`),
						regexp.MustCompile(`dolor (muy fuerte|insoportable)`),
						regexp.MustCompile(`vomito (constante|con sangre)`),
					},
				},
				{
					Type: "medical_moderate", Severity: 2, Action: ActionPriorityBooking, Emergency: false,
					Message: "Malestar reportado. Ofrecer cita prioritaria.",
					Patterns: []*regexp.Regexp{
						regexp.MustCompile(`me siento (mal|muy mal)`),
						regexp.MustCompile(`\bfiebre\b`),
						regexp.MustCompile(`\bmareo\b`),
						regexp.MustCompile(`\bdolor\b`),
					},
				},
			},
		},
		Accident: []*regexp.Regexp{
			regexp.MustCompile(`(tuve|tuvimos|sufri|sufrio) un accidente`),
			regexp.MustCompile(`me (accidente|golpee|cai)`),
			regexp.MustCompile(`\bchoque\b`),
		},

		SevereAllergy: []*regexp.Regexp{
			regexp.MustCompile(`alergia (grave|severa|fuerte)`),
			regexp.MustCompile(`(anafilaxia|shock anafilactico)`),
			regexp.MustCompile(`alergic[oa] .{0,30}(penicilina|anestesia|latex)`),
			regexp.MustCompile(`(me hincho|se me cierra la garganta) (si|cuando) como`),
		},
		ModerateAllergy: []*regexp.Regexp{
			regexp.MustCompile(`alergi[ac]`),
			regexp.MustCompile(`intoleran(te|cia)`),
			regexp.MustCompile(`celiac[oa]`),
			regexp.MustCompile(`sin gluten`),
			regexp.MustCompile(`vegan[oa]`),
		},
		MedicalConditions: map[string]*regexp.Regexp{
			"diabetes":      regexp.MustCompile(`diabet(es|ic[oa])`),
			"hypertension":  regexp.MustCompile(`(hipertension|presion alta)`),
			"pregnancy":     regexp.MustCompile(`embaraz(o|ada)`),
			"anticoagulant": regexp.MustCompile(`anticoagulante`),
			"cardiac":       regexp.MustCompile(`(cardiac[oa]|del corazon)`),
			"epilepsy":      regexp.MustCompile(`epilep(sia|tic[oa])`),
		},

		EventTypes: map[string]*regexp.Regexp{
			"birthday":    regexp.MustCompile(`cumpleanos`),
			"anniversary": regexp.MustCompile(`aniversario`),
			"corporate":   regexp.MustCompile(`(corporativ[oa]|de empresa|de trabajo)`),
			"wedding":     regexp.MustCompile(`\bboda\b`),
			"catering":    regexp.MustCompile(`(catering|banquete)`),
			"vip":         regexp.MustCompile(`\bvip\b`),
		},
		Requirements: map[string]*regexp.Regexp{
			"decor":        regexp.MustCompile(`decoracion`),
			"special_menu": regexp.MustCompile(`menu (especial|personalizado|degustacion)`),
			"av_equipment": regexp.MustCompile(`(proyector|pantalla|microfono|equipo audiovisual|bocinas)`),
			"cake":         regexp.MustCompile(`\bpastel\b`),
			"music":        regexp.MustCompile(`(musica en vivo|dj|mariachi)`),
			"private_room": regexp.MustCompile(`(salon|area) privad[oa]`),
		},
		GroupSize: []*regexp.Regexp{
			regexp.MustCompile(`(?:mesa |reservacion )?para (\d{1,3})(?: personas| invitados| pax)?`),
			regexp.MustCompile(`(\d{1,3}) (personas|invitados|pax|gentes?)`),
			regexp.MustCompile(`somos (\d{1,3})`),
		},
	}
}
