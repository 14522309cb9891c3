package provider

import (
	"fmt"

	"github.com/alphadose/haxmap"
)

// Constructor builds an adapter for one backend from explicit credentials.
type Constructor func(Credentials) Adapter

var constructors = haxmap.New[string, Constructor]()

// Register installs a backend constructor. Adapter packages call this from
// init; importing a backend package is what makes its Kind available.
func Register(kind Kind, fn Constructor) {
	constructors.Set(string(kind), fn)
}

// New returns an adapter for the given backend, or an error when no
// adapter package for that Kind has been linked in.
func New(kind Kind, creds Credentials) (Adapter, error) {
	fn, ok := constructors.Get(string(kind))
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", kind)
	}
	return fn(creds), nil
}
