package output

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOutputExists   = errors.New("output: already exists")
	ErrOutputNotFound = errors.New("output: not found")
	ErrInvalidName    = errors.New("output: invalid name")
)

// Info is the admin view of one output.
type Info struct {
	Name      string `json:"name"`
	GammaSize uint32 `json:"gamma_size"`
	Gamma     bool   `json:"gamma"`
}

// Set stores live outputs by name. Removed outputs are destroyed.
type Set struct {
	items map[string]Output
}

func NewSet() *Set {
	return &Set{items: make(map[string]Output)}
}

func (s *Set) Add(o Output) error {
	if o == nil {
		return fmt.Errorf("%w: nil output", ErrInvalidName)
	}
	name := strings.TrimSpace(o.Name())
	if name == "" {
		return ErrInvalidName
	}
	if _, ok := s.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrOutputExists, name)
	}
	s.items[name] = o
	o.OnDestroy().Subscribe(func(Output) {
		if cur, ok := s.items[name]; ok && cur == o {
			delete(s.items, name)
		}
	})
	return nil
}

func (s *Set) Get(name string) (Output, bool) {
	o, ok := s.items[strings.TrimSpace(name)]
	return o, ok
}

// Remove destroys the named output. Outputs without a Destroy method are
// only forgotten.
func (s *Set) Remove(name string) error {
	name = strings.TrimSpace(name)
	o, ok := s.items[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrOutputNotFound, name)
	}
	if d, ok := o.(interface{ Destroy() }); ok {
		d.Destroy()
	}
	delete(s.items, name)
	return nil
}

// List returns output info ordered by name.
func (s *Set) List() []Info {
	list := make([]Info, 0, len(s.items))
	for name, o := range s.items {
		_, gamma := GammaCapable(o)
		list = append(list, Info{Name: name, GammaSize: o.GammaSize(), Gamma: gamma})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func (s *Set) Len() int {
	return len(s.items)
}
