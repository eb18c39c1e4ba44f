package netevent

import (
	"github.com/pkg/errors"

	"github.com/skycoin/skyevent/pkg/bitstream"
)

// Class describes one registered event class.
type Class struct {
	Name string
	New  func() Event
}

// Registry is the immutable, ordered class table shared by every connection
// of a process. A class id is its position in the table. Version boundaries
// are the class counts at which a table may be cut during negotiation.
type Registry struct {
	classes    []Class
	ids        map[string]uint32
	boundaries []uint32
}

// Versions concatenates class groups, one group per protocol version, and
// returns the classes together with the boundary after each group.
func Versions(groups ...[]Class) ([]Class, []uint32) {
	var (
		classes    []Class
		boundaries []uint32
	)
	for _, g := range groups {
		classes = append(classes, g...)
		boundaries = append(boundaries, uint32(len(classes)))
	}
	return classes, boundaries
}

// NewRegistry builds a Registry. boundaries must be strictly increasing and
// within [1, len(classes)]; the full table size is always a boundary.
func NewRegistry(classes []Class, boundaries []uint32) (*Registry, error) {
	if len(classes) == 0 {
		return nil, errors.Wrap(ErrInvalidRegistry, "no classes")
	}
	r := &Registry{
		classes: append([]Class(nil), classes...),
		ids:     make(map[string]uint32, len(classes)),
	}
	for i, c := range classes {
		if c.Name == "" || c.New == nil {
			return nil, errors.Wrapf(ErrInvalidRegistry, "class %d is incomplete", i)
		}
		if _, ok := r.ids[c.Name]; ok {
			return nil, errors.Wrapf(ErrInvalidRegistry, "duplicate class %q", c.Name)
		}
		r.ids[c.Name] = uint32(i)
	}

	var prev uint32
	for _, b := range boundaries {
		if b <= prev || b > uint32(len(classes)) {
			return nil, errors.Wrapf(ErrInvalidRegistry, "bad version boundary %d", b)
		}
		r.boundaries = append(r.boundaries, b)
		prev = b
	}
	if prev != uint32(len(classes)) {
		r.boundaries = append(r.boundaries, uint32(len(classes)))
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(classes []Class, boundaries []uint32) *Registry {
	r, err := NewRegistry(classes, boundaries)
	if err != nil {
		panic(err)
	}
	return r
}

// Count returns the number of registered classes.
func (r *Registry) Count() uint32 { return uint32(len(r.classes)) }

// Class returns the class with the given id.
func (r *Registry) Class(id uint32) (Class, bool) {
	if id >= uint32(len(r.classes)) {
		return Class{}, false
	}
	return r.classes[id], true
}

// ID returns the id of the named class.
func (r *Registry) ID(name string) (uint32, bool) {
	id, ok := r.ids[name]
	return id, ok
}

// Boundaries returns a copy of the version boundaries.
func (r *Registry) Boundaries() []uint32 {
	return append([]uint32(nil), r.boundaries...)
}

// IsBoundary reports whether n is a version boundary.
func (r *Registry) IsBoundary(n uint32) bool {
	for _, b := range r.boundaries {
		if b == n {
			return true
		}
	}
	return false
}

// Negotiate is run by the accepting side: it returns the class count both
// endpoints will use given the count advertised by the remote.
func (r *Registry) Negotiate(remote uint32) (uint32, error) {
	n := r.Count()
	if remote < n {
		n = remote
	}
	if !r.IsBoundary(n) {
		return 0, errors.Wrapf(ErrVersionBoundary, "local %d, remote %d", r.Count(), remote)
	}
	return n, nil
}

// Validate is run by the initiating side on the count the acceptor chose.
func (r *Registry) Validate(n uint32) error {
	if n > r.Count() || !r.IsBoundary(n) {
		return errors.Wrapf(ErrVersionBoundary, "local %d, accepted %d", r.Count(), n)
	}
	return nil
}

// ClassBits returns the width of a class id field for a table of n classes.
func ClassBits(n uint32) uint8 {
	if n <= 1 {
		return 0
	}
	return bitstream.BitsFor(uint64(n - 1))
}
