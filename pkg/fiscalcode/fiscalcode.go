// Package fiscalcode verifies the 16-character Italian codice fiscale.
//
// The verifier is an optional capability: consumers hold the Verifier
// interface and receive Unconfigured when the capability is absent. A
// cross-match against the visitor's name yields a warning, never an
// error; the questionnaire must stay navigable on a mismatch.
package fiscalcode

import (
	"regexp"
	"strings"
)

// ErrorKind classifies a failed verification.
type ErrorKind string

const (
	ErrorLength   ErrorKind = "length"
	ErrorFormat   ErrorKind = "format"
	ErrorChecksum ErrorKind = "checksum"
)

// Person carries the optional personal data for the cross-match.
type Person struct {
	FirstName string
	LastName  string
}

// Result is the verification verdict.
type Result struct {
	// Checked is false when the capability is not configured; consumers
	// skip all fiscal-code handling in that case.
	Checked bool
	Valid   bool
	// ErrorKind is set when Valid is false.
	ErrorKind ErrorKind
	// CrossMatchWarning reports a name/code mismatch. Advisory only.
	CrossMatchWarning bool
}

// Verifier is the fiscal-code capability contract.
type Verifier interface {
	Verify(code string, person *Person) Result
}

// Unconfigured is the explicit absent-capability variant.
type Unconfigured struct{}

// Verify reports an unchecked result.
func (Unconfigured) Verify(string, *Person) Result {
	return Result{Checked: false, Valid: true}
}

// Checker is the real implementation.
type Checker struct{}

// NewChecker returns a ready verifier.
func NewChecker() *Checker {
	return &Checker{}
}

var formatRE = regexp.MustCompile(`^[A-Z]{6}[0-9LMNPQRSTUV]{2}[ABCDEHLMPRST][0-9LMNPQRSTUV]{2}[A-Z][0-9LMNPQRSTUV]{3}[A-Z]$`)

// Verify normalizes the code, checks length, shape and control character,
// and when personal data is supplied compares the name-derived triplets.
func (*Checker) Verify(code string, person *Person) Result {
	normalized := strings.ToUpper(strings.TrimSpace(code))

	if len(normalized) != 16 {
		return Result{Checked: true, ErrorKind: ErrorLength}
	}
	if !formatRE.MatchString(normalized) {
		return Result{Checked: true, ErrorKind: ErrorFormat}
	}
	if controlChar(normalized[:15]) != rune(normalized[15]) {
		return Result{Checked: true, ErrorKind: ErrorChecksum}
	}

	result := Result{Checked: true, Valid: true}
	if person != nil {
		if !matchesName(normalized, person) {
			result.CrossMatchWarning = true
		}
	}
	return result
}

// oddValues maps each character to its odd-position control value.
var oddValues = map[byte]int{
	'0': 1, '1': 0, '2': 5, '3': 7, '4': 9, '5': 13, '6': 15, '7': 17, '8': 19, '9': 21,
	'A': 1, 'B': 0, 'C': 5, 'D': 7, 'E': 9, 'F': 13, 'G': 15, 'H': 17, 'I': 19, 'J': 21,
	'K': 2, 'L': 4, 'M': 18, 'N': 20, 'O': 11, 'P': 3, 'Q': 6, 'R': 8, 'S': 12, 'T': 14,
	'U': 16, 'V': 10, 'W': 22, 'X': 25, 'Y': 24, 'Z': 23,
}

func evenValue(c byte) int {
	if c >= '0' && c <= '9' {
		return int(c - '0')
	}
	return int(c - 'A')
}

// controlChar computes the 16th character from the first fifteen.
// Positions are 1-based in the algorithm, so index 0 is odd.
func controlChar(body string) rune {
	sum := 0
	for i := 0; i < len(body); i++ {
		if i%2 == 0 {
			sum += oddValues[body[i]]
		} else {
			sum += evenValue(body[i])
		}
	}
	return rune('A' + sum%26)
}

// matchesName compares the code's surname and name triplets against the
// triplets derived from the supplied personal data. Missing data matches
// vacuously.
func matchesName(code string, person *Person) bool {
	if person.LastName != "" && surnameTriplet(person.LastName) != code[0:3] {
		return false
	}
	if person.FirstName != "" && nameTriplet(person.FirstName) != code[3:6] {
		return false
	}
	return true
}

func splitLetters(s string) (consonants, vowels string) {
	for _, r := range strings.ToUpper(s) {
		if r < 'A' || r > 'Z' {
			continue
		}
		if strings.ContainsRune("AEIOU", r) {
			vowels += string(r)
		} else {
			consonants += string(r)
		}
	}
	return consonants, vowels
}

func surnameTriplet(surname string) string {
	consonants, vowels := splitLetters(surname)
	return pad(consonants + vowels)
}

func nameTriplet(name string) string {
	consonants, vowels := splitLetters(name)
	// With four or more consonants the first, third and fourth are used.
	if len(consonants) >= 4 {
		return string(consonants[0]) + string(consonants[2]) + string(consonants[3])
	}
	return pad(consonants + vowels)
}

func pad(letters string) string {
	letters += "XXX"
	return letters[:3]
}
