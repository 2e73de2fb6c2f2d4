package submit

import (
	"fmt"
	"strconv"
	"strings"

	"intake/pkg/attach"
	"intake/pkg/formstate"
	"intake/pkg/schema"
)

// Flatten projects the nested step-keyed form data into the flat record
// the delivery endpoint expects: kebab-case field names become camelCase,
// staged files are left out (they travel in the files array), and the
// composite address plus the annual cost total are derived.
func Flatten(state formstate.FormState) map[string]any {
	flat := make(map[string]any)

	for i := 0; i < schema.TotalSteps; i++ {
		for name, value := range state.FormData[schema.StepKey(i)] {
			if _, isFile := attach.FromFieldValue(value); isFile {
				continue
			}
			flat[kebabToCamel(name)] = value
		}
	}

	if address := assembleAddress(state.FormData[schema.StepKey(schema.StepPropertyData)]); address != "" {
		flat["indirizzoCompleto"] = address
	}
	if total, ok := annualCostTotal(state.FormData[schema.StepKey(schema.StepPropertyData)]); ok {
		flat["speseAnnualiTotali"] = total
	}

	return flat
}

// assembleAddress composes "indirizzo civico, cap citta (provincia)",
// omitting whichever components are empty.
func assembleAddress(property formstate.StepData) string {
	street := strings.TrimSpace(joinNonEmpty(" ",
		stringField(property, "indirizzo"),
		stringField(property, "civico"),
	))
	town := strings.TrimSpace(joinNonEmpty(" ",
		stringField(property, "cap"),
		stringField(property, "citta"),
	))
	if province := stringField(property, "provincia"); province != "" {
		if town != "" {
			town = fmt.Sprintf("%s (%s)", town, strings.ToUpper(province))
		} else {
			town = fmt.Sprintf("(%s)", strings.ToUpper(province))
		}
	}
	return joinNonEmpty(", ", street, town)
}

// annualCostTotal derives the yearly running cost of the property:
// monthly fees count twelve times, yearly taxes once.
func annualCostTotal(property formstate.StepData) (float64, bool) {
	condo, okCondo := numberField(property, "spese-condominio")
	imu, okIMU := numberField(property, "imu")
	tari, okTARI := numberField(property, "tari")
	utilities, okUtil := numberField(property, "utenze")

	if !okCondo && !okIMU && !okTARI && !okUtil {
		return 0, false
	}
	return condo*12 + imu + tari + utilities*12, true
}

func stringField(data formstate.StepData, name string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[name].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func numberField(data formstate.StepData, name string) (float64, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}

func kebabToCamel(name string) string {
	parts := strings.Split(name, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
