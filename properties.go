package jms

import (
	"errors"
	"sort"
	"unicode"
)

var (
	// ErrInvalidPropertyName is returned when a property name is not an
	// identifier. Names must start with a letter, '_' or '$' and continue
	// with letters, digits, '_' or '$'.
	ErrInvalidPropertyName = errors.New("jms: invalid property name")

	// ErrInvalidPropertyValue is returned for values that are not a bool,
	// an integer, a float or a string.
	ErrInvalidPropertyValue = errors.New("jms: invalid property value")
)

// Properties represent the key-value metadata for a Message.
// Keys are case-sensitive.
type Properties map[string]interface{}

// ValidPropertyName reports whether name may be used as a property name.
func ValidPropertyName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// Set sets the named property, replacing any existing value.
func (p Properties) Set(name string, value interface{}) error {
	if !ValidPropertyName(name) {
		return ErrInvalidPropertyName
	}
	switch value.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		float32, float64:
	default:
		return ErrInvalidPropertyValue
	}
	p[name] = value
	return nil
}

// Get returns the named property.
func (p Properties) Get(name string) (interface{}, bool) {
	v, ok := p[name]
	return v, ok
}

// String returns the named property if it holds a string.
func (p Properties) String(name string) (string, bool) {
	s, ok := p[name].(string)
	return s, ok
}

// Delete removes the named property.
func (p Properties) Delete(name string) {
	delete(p, name)
}

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of p. Cloning nil returns an empty Properties.
func (p Properties) Clone() Properties {
	p2 := make(Properties, len(p))
	for k, v := range p {
		p2[k] = v
	}
	return p2
}
