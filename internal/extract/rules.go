package extract

import "regexp"

// Rule is one curated pattern bound to a procedural event type. Rules are
// evaluated in order and the first match wins. Confidence values are
// hand-tuned constants, not learned.
type Rule struct {
	Name       string
	EventType  string
	Pattern    *regexp.Regexp
	TermDays   int
	FromText   bool
	Confidence float64
}

// DefaultRules is the curated rule set for Brazilian procedural
// publications. Order matters: specific event types come before the
// generic term catch-all, which deliberately scores below the usual
// confidence threshold so unrecognized terms land in triage.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "contestacao",
			EventType:  "contestação",
			Pattern:    regexp.MustCompile(`prazo de (\d{1,3}) dias?(?: úteis)? para (?:apresentar |oferecer )?contesta(?:ção|r)`),
			FromText:   true,
			Confidence: 0.92,
		},
		{
			Name:       "embargos_declaracao",
			EventType:  "embargos de declaração",
			Pattern:    regexp.MustCompile(`embargos de declara`),
			TermDays:   5,
			Confidence: 0.85,
		},
		{
			Name:       "apelacao",
			EventType:  "apelação",
			Pattern:    regexp.MustCompile(`prazo de (\d{1,3}) dias?(?: úteis)? para (?:interpor |interposição de )?(?:recurso de )?apela(?:ção|r)`),
			FromText:   true,
			Confidence: 0.9,
		},
		{
			Name:       "agravo_instrumento",
			EventType:  "agravo de instrumento",
			Pattern:    regexp.MustCompile(`agravo de instrumento`),
			TermDays:   15,
			Confidence: 0.8,
		},
		{
			Name:       "cumprimento_sentenca",
			EventType:  "cumprimento de sentença",
			Pattern:    regexp.MustCompile(`cumprimento de sentença|pagamento volunt[áa]rio`),
			TermDays:   15,
			Confidence: 0.8,
		},
		{
			Name:       "manifestacao",
			EventType:  "manifestação",
			Pattern:    regexp.MustCompile(`prazo de (\d{1,3}) dias?(?: úteis)? para (?:se )?manifesta(?:r|ção)`),
			FromText:   true,
			Confidence: 0.75,
		},
		{
			Name:       "prazo_generico",
			EventType:  "prazo genérico",
			Pattern:    regexp.MustCompile(`prazo de (\d{1,3}) dias`),
			FromText:   true,
			Confidence: 0.5,
		},
	}
}
