package envelope

import "fmt"

// Format selects the wire encoding of an envelope.
type Format string

const (
	// FormatXML encodes envelopes as an XML Encryption EncryptedData element
	// carrying an enveloped XML Signature.
	FormatXML Format = "xml"
	// FormatCompact encodes envelopes as a JWS compact token whose payload is
	// a JWE compact token.
	FormatCompact Format = "compact"
)

// ParseFormat converts a configuration string into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatXML:
		return FormatXML, nil
	case FormatCompact:
		return FormatCompact, nil
	}
	return "", fmt.Errorf("%w: unknown envelope format %q", ErrInvalidArgument, s)
}

const defaultFormat = FormatCompact

// engineConfig holds configuration for the engine.
type engineConfig struct {
	format Format
	codec  Codec
}

// Option configures the engine.
type Option func(*engineConfig)

// WithFormat selects one of the built-in codecs.
// Default: FormatCompact
func WithFormat(format Format) Option {
	return func(c *engineConfig) {
		c.format = format
	}
}

// WithCodec installs a custom codec. It takes precedence over WithFormat.
func WithCodec(codec Codec) Option {
	return func(c *engineConfig) {
		c.codec = codec
	}
}

// codecFor returns the built-in codec for format.
func codecFor(format Format) (Codec, error) {
	switch format {
	case FormatXML:
		return NewXMLCodec(), nil
	case FormatCompact:
		return NewCompactCodec(), nil
	}
	return nil, fmt.Errorf("%w: unknown envelope format %q", ErrInvalidArgument, format)
}
