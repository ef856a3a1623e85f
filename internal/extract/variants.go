package extract

import (
	"encoding/xml"
	"strings"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
)

// Dublin Core element namespace. Documents that use the dc prefix without
// declaring it still match through the bare prefix.
const (
	dcNamespace = "http://purl.org/dc/elements/1.1/"
	dcPrefix    = "dc"
)

const (
	elemRecord     = "record"
	elemMetadata   = "metadata"
	elemIdentifier = "identifier"
	elemURL        = "url"
	elemToken      = "resumptionToken"
)

// field says what the text of the element being captured will become.
type field int

const (
	fieldNone field = iota
	fieldURN
	fieldURL
	fieldIdentifier // dc:identifier, classified once complete
	fieldToken
)

// variant is the per-format strategy. Each implementation is a closed,
// stateless description; all mutable state lives in Extractor.
type variant interface {
	// boundary reports whether name delimits one record.
	boundary(name xml.Name) bool
	// field classifies a start tag. inScope is true between boundary tags.
	field(name xml.Name, inScope bool) field
	// identifier consumes a complete dc:identifier value.
	identifier(e *Extractor, text string)
	// admitURN filters urn candidates before they are stored.
	admitURN(e *Extractor, candidate string) bool
	// strict makes an incomplete record a document error.
	strict() bool
}

func variantFor(src *domain.Source) (variant, error) {
	switch src.Format {
	case domain.FormatResolver:
		return resolverVariant{}, nil
	case domain.FormatOAIPMH:
		return oaiVariant{}, nil
	case domain.FormatLegacyMirror:
		return legacyMirrorVariant{}, nil
	case domain.FormatSuccessor:
		legacy, canonical := src.LegacyPrefix, src.CanonicalPrefix
		if legacy == "" {
			legacy = domain.DefaultLegacyPrefix
		}
		if canonical == "" {
			canonical = domain.DefaultCanonicalPrefix
		}
		return successorVariant{legacy: legacy, canonical: canonical}, nil
	case domain.FormatScoped:
		return scopedVariant{}, nil
	default:
		return nil, ErrUnknownFormat
	}
}

func isDC(name xml.Name) bool {
	return name.Local == elemIdentifier && (name.Space == dcNamespace || name.Space == dcPrefix)
}

func isPlain(name xml.Name, local string) bool {
	return name.Local == local && name.Space != dcNamespace && name.Space != dcPrefix
}

// resolverVariant reads a full dump with explicit identifier/url children.
type resolverVariant struct{}

func (resolverVariant) boundary(name xml.Name) bool { return name.Local == elemRecord }

func (resolverVariant) field(name xml.Name, _ bool) field {
	switch {
	case isPlain(name, elemIdentifier):
		return fieldURN
	case isPlain(name, elemURL):
		return fieldURL
	}
	return fieldNone
}

func (resolverVariant) identifier(*Extractor, string) {}

func (resolverVariant) admitURN(*Extractor, string) bool { return true }

func (resolverVariant) strict() bool { return true }

// oaiVariant is plain OAI-PMH over Dublin Core.
type oaiVariant struct{}

func (oaiVariant) boundary(name xml.Name) bool { return name.Local == elemRecord }

func (oaiVariant) field(name xml.Name, _ bool) field {
	switch {
	case isDC(name):
		return fieldIdentifier
	case name.Local == elemToken:
		return fieldToken
	}
	return fieldNone
}

func (oaiVariant) identifier(e *Extractor, text string) {
	if looksLikeURN(text) {
		e.SetURN(text)
		return
	}
	e.SetURL(text)
}

func (oaiVariant) admitURN(*Extractor, string) bool { return true }

func (oaiVariant) strict() bool { return false }

// legacyMirrorVariant skips urns now owned by successor repositories.
type legacyMirrorVariant struct{ oaiVariant }

func (legacyMirrorVariant) admitURN(e *Extractor, candidate string) bool {
	if e.excluded != nil && e.excluded.Contains(candidate) {
		e.stats.Excluded++
		return false
	}
	return true
}

// successorVariant rewrites legacy handle urls and keeps a canonical url once found.
type successorVariant struct {
	oaiVariant
	legacy    string
	canonical string
}

func (v successorVariant) identifier(e *Extractor, text string) {
	if looksLikeURN(text) {
		e.SetURN(text)
		return
	}
	if e.hasURL && strings.HasPrefix(e.url, v.canonical) {
		return
	}
	if strings.HasPrefix(text, v.legacy) {
		text = v.canonical + strings.TrimPrefix(text, v.legacy)
	}
	e.SetURL(text)
}

// scopedVariant only trusts identifier/url inside <metadata>.
type scopedVariant struct{}

func (scopedVariant) boundary(name xml.Name) bool { return name.Local == elemMetadata }

func (scopedVariant) field(name xml.Name, inScope bool) field {
	if name.Local == elemToken {
		return fieldToken
	}
	if !inScope {
		return fieldNone
	}
	switch {
	case isPlain(name, elemIdentifier):
		return fieldURN
	case isPlain(name, elemURL):
		return fieldURL
	}
	return fieldNone
}

func (scopedVariant) identifier(*Extractor, string) {}

func (scopedVariant) admitURN(*Extractor, string) bool { return true }

func (scopedVariant) strict() bool { return false }

func looksLikeURN(s string) bool {
	return len(s) >= 3 && strings.EqualFold(s[:3], "urn")
}
