package queueengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/xeipuuv/gojsonschema"
)

// Registration binds a handler, and optionally a JSON schema for the payload,
// to a message type.
type Registration struct {
	Type    types.MessageType
	Handler Handler
	// Schema is an optional JSON schema the message data must satisfy before
	// the handler is invoked.
	Schema string
}

// Route is the resolved dispatch target for a message type.
type Route struct {
	Type    types.MessageType
	Handler Handler
	schema  *gojsonschema.Schema
}

// validate checks data against the route's schema, if any.
func (r Route) validate(data []byte) error {
	if r.schema == nil {
		return nil
	}
	if len(data) == 0 {
		data = []byte("null")
	}
	result, err := r.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Invalid("schema validation of %s payload: %v", r.Type, err)
	}
	if result.Valid() {
		return nil
	}
	descs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descs = append(descs, desc.String())
	}
	return Invalid("%s payload does not match schema: %s", r.Type, strings.Join(descs, "; "))
}

// Registry is the immutable mapping from message type to handler. It is built
// once at startup and safe for concurrent use.
type Registry struct {
	routes map[types.MessageType]Route
}

// NewRegistry builds a Registry. Registering a type twice, an empty type, a
// nil handler or a schema that does not compile is a configuration error.
func NewRegistry(regs ...Registration) (*Registry, error) {
	routes := make(map[types.MessageType]Route, len(regs))
	for _, reg := range regs {
		if reg.Type == "" {
			return nil, fmt.Errorf("%w: empty message type", ErrInvalidRegistration)
		}
		if reg.Handler == nil {
			return nil, fmt.Errorf("%w: nil handler for %s", ErrInvalidRegistration, reg.Type)
		}
		if _, exists := routes[reg.Type]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, reg.Type)
		}
		route := Route{Type: reg.Type, Handler: reg.Handler}
		if reg.Schema != "" {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(reg.Schema))
			if err != nil {
				return nil, fmt.Errorf("%w for %s: %v", ErrInvalidSchema, reg.Type, err)
			}
			route.schema = schema
		}
		routes[reg.Type] = route
	}
	return &Registry{routes: routes}, nil
}

// Resolve returns the route for a message type.
func (r *Registry) Resolve(t types.MessageType) (Route, bool) {
	route, ok := r.routes[t]
	return route, ok
}

// Types returns the registered message types in sorted order.
func (r *Registry) Types() []types.MessageType {
	out := make([]types.MessageType, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequireTypes fails when any of the given types has no handler.
func (r *Registry) RequireTypes(required ...types.MessageType) error {
	var missing []string
	for _, t := range required {
		if _, ok := r.routes[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingHandler, strings.Join(missing, ", "))
	}
	return nil
}
