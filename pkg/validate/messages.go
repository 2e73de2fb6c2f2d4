package validate

import (
	"fmt"

	"intake/pkg/schema"
)

// Message catalog, Italian. Kinds with bounds interpolate the field's
// declared constraint so the visitor sees the actual limit.
var messages = map[Kind]string{
	KindRequired:   "Questo campo è obbligatorio",
	KindTypeEmail:  "Inserisci un indirizzo email valido",
	KindTypeTel:    "Inserisci un numero di telefono valido",
	KindTypeNumber: "Inserisci un valore numerico",
	KindPattern:    "Il formato inserito non è valido",
	KindGeneric:    "Il valore inserito non è valido",
}

// Message returns the localized message for a failure kind on a field.
func Message(kind Kind, field *schema.Field) string {
	switch kind {
	case KindTooShort:
		return fmt.Sprintf("Inserisci almeno %d caratteri", field.MinLength)
	case KindTooLong:
		return fmt.Sprintf("Puoi inserire al massimo %d caratteri", field.MaxLength)
	case KindRangeUnder:
		if field.Min != nil {
			return fmt.Sprintf("Il valore minimo è %s", formatBound(*field.Min))
		}
	case KindRangeOver:
		if field.Max != nil {
			return fmt.Sprintf("Il valore massimo è %s", formatBound(*field.Max))
		}
	}
	if message, ok := messages[kind]; ok {
		return message
	}
	return messages[KindGeneric]
}

func formatBound(bound float64) string {
	if bound == float64(int64(bound)) {
		return fmt.Sprintf("%d", int64(bound))
	}
	return fmt.Sprintf("%g", bound)
}
