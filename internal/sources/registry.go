package sources

import (
	"fmt"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
)

// Registry is the validated set of harvestable sources, in file order.
type Registry struct {
	sources []*domain.Source
	byTitle map[string]*domain.Source
}

// Load reads path and maps it into a Registry.
func Load(path string) (*Registry, error) {
	file, err := NewLoader(path).Load()
	if err != nil {
		return nil, err
	}
	return NewMapper().MapSources(file)
}

// All returns every source.
func (r *Registry) All() []*domain.Source {
	out := make([]*domain.Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Lookup finds a source by title.
func (r *Registry) Lookup(title string) (*domain.Source, bool) {
	src, ok := r.byTitle[title]
	return src, ok
}

// Select resolves titles in the given order. Titles are checked against
// the allowed alphabet before lookup.
func (r *Registry) Select(titles []string) ([]*domain.Source, error) {
	out := make([]*domain.Source, 0, len(titles))
	for _, t := range titles {
		if !ValidTitle(t) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTitle, t)
		}
		src, ok := r.byTitle[t]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, t)
		}
		out = append(out, src)
	}
	return out, nil
}

// Len returns the number of sources.
func (r *Registry) Len() int { return len(r.sources) }
