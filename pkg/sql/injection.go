package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// IdentifierCheckResult contains the result of an injection check on a
// user-supplied identifier.
type IdentifierCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Field       string // Name of the field that failed the check
	Value       string // The value that was checked
}

// CheckIdentifier uses libinjection to detect SQL injection patterns in a
// user-supplied identifier (model names, column names, join aliases and the
// like).
//
// Names containing apostrophes, dashes, or reserved words are legitimate
// warehouse identifiers and pass; only values that fingerprint as an actual
// injection payload are reported.
//
// Returns nil if no injection is detected, or an IdentifierCheckResult with
// details about the detected pattern.
//
// Example:
//
//	// Safe identifier - no injection
//	result := CheckIdentifier("column_name", "order_total")
//	// result == nil
//
//	// Injection attempt detected
//	result := CheckIdentifier("alias", "x'; DROP TABLE orders--")
//	// result.IsSQLi == true
//	// result.Fingerprint == "s&1c" (or similar)
//	// result.Field == "alias"
func CheckIdentifier(field, value string) *IdentifierCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &IdentifierCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			Field:       field,
			Value:       value,
		}
	}

	return nil
}

// Identifier pairs a field name with its user-supplied value for batch checks.
type Identifier struct {
	Field string
	Value string
}

// CheckIdentifiers validates identifiers in order and returns the first
// failure, or nil when every value is clean.
//
// Example:
//
//	result := CheckIdentifiers(
//	    Identifier{Field: "name", Value: "revenue"},
//	    Identifier{Field: "column_name", Value: "amount'; DELETE FROM orders--"},
//	)
//	// result.Field == "column_name"
func CheckIdentifiers(idents ...Identifier) *IdentifierCheckResult {
	for _, ident := range idents {
		if result := CheckIdentifier(ident.Field, ident.Value); result != nil {
			return result
		}
	}
	return nil
}
