package fontgen

import "fmt"

// ConfigurationError is returned for bad or missing conversion table input. It is
// always detected before the font is mutated.
type ConfigurationError struct {
	Msg string
}

func (e ConfigurationError) Error() string {
	return "configuration: " + e.Msg
}

// IntegrityError is returned when a table references a glyph that no longer exists,
// or when a required glyph is missing from the source font. It is fatal and no
// output is written.
type IntegrityError struct {
	Msg string
}

func (e IntegrityError) Error() string {
	return "integrity: " + e.Msg
}

// FormatError is returned when the output font would exceed the limits of the SFNT
// container, such as the glyph count or a subtable offset overflowing.
type FormatError struct {
	Msg string
}

func (e FormatError) Error() string {
	return "format: " + e.Msg
}

// IOError wraps a read or write failure together with the offending path.
type IOError struct {
	Path string
	Err  error
}

func (e IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e IOError) Unwrap() error {
	return e.Err
}
