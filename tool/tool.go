// Package tool defines the functions a completion stream may invoke and the
// registry the completions service resolves them from.
package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/fogfish/opts"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Func is the callable behind a tool. It receives the parsed argument
// object assembled from the provider stream and returns the string result
// that is fed back into the conversation as a tool message.
type Func func(ctx context.Context, args gjson.Result) (string, error)

// Definition describes one tool: its wire name, the parameter schema
// advertised to the model, and the function invoked when the model calls it.
type Definition struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Function    Func
}

// Option configures a Definition during construction.
type Option = opts.Option[Definition]

var (
	// WithDescription sets the human-readable description sent to the model.
	WithDescription = opts.ForName[Definition, string]("Description")
	// WithSchema sets the parameter schema advertised to the model.
	WithSchema = opts.ForName[Definition, *jsonschema.Schema]("Schema")
)

// New builds a tool definition. The name must be non-empty: it is the key
// the model calls the tool by.
func New(name string, fn Func, options ...Option) (Definition, error) {
	if strings.TrimSpace(name) == "" {
		return Definition{}, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return Definition{}, fmt.Errorf("tool %s has no function", name)
	}
	def := Definition{Name: name, Function: fn}
	if err := opts.Apply(&def, options); err != nil {
		return Definition{}, err
	}
	if def.Schema == nil {
		def.Schema = ObjectSchema()
	}
	return def, nil
}

// Must is New for package-level tool declarations; it panics on error.
func Must(name string, fn Func, options ...Option) Definition {
	def, err := New(name, fn, options...)
	if err != nil {
		panic(err)
	}
	return def
}

// Property declares one parameter of an object schema.
type Property struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ObjectSchema builds the JSON schema for a tool's parameters.
func ObjectSchema(props ...Property) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
	for _, p := range props {
		schema.Properties.Set(p.Name, &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
		})
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
