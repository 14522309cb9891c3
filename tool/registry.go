package tool

import "github.com/alphadose/haxmap"

// Registry resolves tools by their wire name. It is safe for concurrent
// use; registration normally happens once at startup but nothing prevents
// adding tools while streams are live.
type Registry struct {
	values *haxmap.Map[string, Definition]
}

func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{values: haxmap.New[string, Definition]()}
	for _, def := range defs {
		r.Add(def)
	}
	return r
}

func (r *Registry) Add(def Definition) {
	r.values.Set(def.Name, def)
}

func (r *Registry) Get(name string) (Definition, bool) {
	return r.values.Get(name)
}

func (r *Registry) Del(name string) {
	r.values.Del(name)
}

// Definitions returns all registered tools, for advertising to providers.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, r.values.Len())
	r.values.ForEach(func(_ string, def Definition) bool {
		defs = append(defs, def)
		return true
	})
	return defs
}
