package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"io"

	"golang.org/x/net/html/charset"
)

// ParseError marks a failure to read the document itself, as opposed to a
// failure of the sink. Only parse errors are worth a repaired retry.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse document: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err came from reading the document.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parse streams r through the extractor until EOF.
func (e *Extractor) Parse(ctx context.Context, r io.Reader) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ParseError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			e.StartElement(t.Name, t.Attr)
		case xml.EndElement:
			if err := e.EndElement(t.Name); err != nil {
				if errors.Is(err, ErrIncompleteRecord) {
					return &ParseError{Err: err}
				}
				return err
			}
		case xml.CharData:
			e.CharData(t)
		}
	}
}
