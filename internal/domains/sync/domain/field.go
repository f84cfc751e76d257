package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType is the declared target type of a mapped field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldDecimal FieldType = "decimal"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
)

// MissingPolicy declares what happens when a source value is absent, NULL or blank.
type MissingPolicy string

const (
	// PolicyRequired fails the record with MissingColumnError (absent/NULL) or CoercionError (blank).
	PolicyRequired MissingPolicy = "required"
	// PolicyDefault substitutes the field's declared default.
	PolicyDefault MissingPolicy = "default"
	// PolicyNullable stores NULL.
	PolicyNullable MissingPolicy = "nullable"
)

var (
	ErrUnknownFieldType = errors.New("unknown field type")
	ErrUnknownPolicy    = errors.New("unknown missing-value policy")
	ErrEmptyFieldName   = errors.New("field name is required")
)

// DefaultTrueTokens and DefaultFalseTokens are the boolean spellings accepted
// when a field does not declare its own tokens.
var (
	DefaultTrueTokens  = []string{"1", "Y", "y", "true", "TRUE", "True"}
	DefaultFalseTokens = []string{"0", "N", "n", "false", "FALSE", "False"}
)

// FieldDescriptor describes one typed field of a target record.
type FieldDescriptor struct {
	Name        string
	Type        FieldType
	Policy      MissingPolicy
	Default     string
	TrueTokens  []string
	FalseTokens []string
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldDecimal, FieldInteger, FieldBoolean, FieldDate:
		return true
	}
	return false
}

// Valid reports whether p is a known policy.
func (p MissingPolicy) Valid() bool {
	switch p {
	case PolicyRequired, PolicyDefault, PolicyNullable:
		return true
	}
	return false
}

// BooleanTokens returns the effective true/false token sets for the field.
func (f FieldDescriptor) BooleanTokens() (truthy, falsy []string) {
	truthy, falsy = f.TrueTokens, f.FalseTokens
	if len(truthy) == 0 {
		truthy = DefaultTrueTokens
	}
	if len(falsy) == 0 {
		falsy = DefaultFalseTokens
	}
	return truthy, falsy
}

func (f FieldDescriptor) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrEmptyFieldName
	}
	if !f.Type.Valid() {
		return fmt.Errorf("field %q: %w %q", f.Name, ErrUnknownFieldType, f.Type)
	}
	if !f.Policy.Valid() {
		return fmt.Errorf("field %q: %w %q", f.Name, ErrUnknownPolicy, f.Policy)
	}
	if f.Type == FieldBoolean {
		truthy, falsy := f.BooleanTokens()
		seen := make(map[string]struct{}, len(truthy))
		for _, tok := range truthy {
			seen[tok] = struct{}{}
		}
		for _, tok := range falsy {
			if _, dup := seen[tok]; dup {
				return fmt.Errorf("field %q: token %q is both true and false", f.Name, tok)
			}
		}
	}
	return nil
}
