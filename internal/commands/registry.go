// Package commands provides command registration and argument binding for cyclone.
// It keeps a route table of command descriptors and turns raw requests into typed command values.
package commands

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"cyclone/pkg/cyclonetypes"
)

// DefaultRoute is used when neither the caller nor the registry names a route.
const DefaultRoute = "/v1"

var (
	simpleType      = reflect.TypeOf((*cyclonetypes.SimpleCommand)(nil)).Elem()
	interactiveType = reflect.TypeOf((*cyclonetypes.InteractiveCommand)(nil)).Elem()
)

// Describer is implemented by commands that carry a one-line description for catalogues.
type Describer interface {
	Description() string
}

// Descriptor is the registered form of a command.
type Descriptor struct {
	Route       string
	Name        string
	Type        reflect.Type
	Interactive bool
	Parent      *Descriptor
	Description string
	schema      *Schema
}

// WSOnly reports whether the command may only be started over a duplex connection.
func (d *Descriptor) WSOnly() bool {
	return d.Interactive || d.Parent != nil
}

// Fields returns the command's bindable fields.
func (d *Descriptor) Fields() []Field {
	return d.schema.Fields()
}

// Bind builds the typed command value from args and env.
func (d *Descriptor) Bind(args map[string]any, env Env) (any, error) {
	return d.schema.Bind(d.Name, args, env)
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultRoute sets the route used when a caller passes an empty route.
func WithDefaultRoute(route string) Option {
	return func(r *Registry) {
		if route != "" {
			r.defaultRoute = route
		}
	}
}

// WithPrefix sets a prefix applied to every top-level name registered afterwards.
func WithPrefix(prefix string) Option {
	return func(r *Registry) {
		r.prefix = normalizePrefix(prefix, true)
	}
}

// WithBase sets the bottom layer of every Env built from this registry.
func WithBase(base map[string]any) Option {
	return func(r *Registry) {
		for k, v := range base {
			r.base[k] = v
		}
	}
}

// RegisterOption configures a single Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	parent any
}

// WithParent declares the interactive command that receives this command as a nested request.
func WithParent(sample any) RegisterOption {
	return func(o *registerOptions) {
		o.parent = sample
	}
}

// Registry manages command registration and lookup per route.
// Registration happens at startup; lookups are safe from any goroutine.
type Registry struct {
	mu           sync.RWMutex
	defaultRoute string
	prefix       string
	base         map[string]any
	routes       map[string]map[string]*Descriptor
	types        map[reflect.Type]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		defaultRoute: DefaultRoute,
		base:         make(map[string]any),
		routes:       make(map[string]map[string]*Descriptor),
		types:        make(map[reflect.Type]*Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a command under route. sample is a value or pointer of the command's struct
// type; a non-nil sample supplies default argument values.
func (r *Registry) Register(route, name string, sample any, opts ...RegisterOption) error {
	options := &registerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if strings.TrimSpace(name) == "" {
		return ErrEmptyCommandName
	}

	t, value, err := commandType(sample)
	if err != nil {
		return err
	}
	interactive, err := classify(t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	route = r.normalizeRoute(route)

	if _, exists := r.types[t]; exists {
		return &DuplicateCommandError{Type: t.String()}
	}

	var parent *Descriptor
	if options.parent != nil {
		pt, _, err := commandType(options.parent)
		if err != nil {
			return fmt.Errorf("parent of %s: %w", name, err)
		}
		p, ok := r.types[pt]
		if !ok || p.Route != route {
			return &UnknownParentError{Route: route, Parent: pt.String()}
		}
		if !p.Interactive {
			return &NonInteractiveParentError{Parent: pt.String()}
		}
		parent = p
		name = parent.Name + ":" + name
	} else {
		name = r.prefix + name
	}

	if _, exists := r.routes[route][name]; exists {
		return &DuplicateCommandError{Route: route, Name: name}
	}

	schema, err := compileSchema(t, value)
	if err != nil {
		return err
	}

	d := &Descriptor{
		Route:       route,
		Name:        name,
		Type:        t,
		Interactive: interactive,
		Parent:      parent,
		Description: describe(t),
		schema:      schema,
	}
	if r.routes[route] == nil {
		r.routes[route] = make(map[string]*Descriptor)
	}
	r.routes[route][name] = d
	r.types[t] = d
	return nil
}

// MustRegister is Register that panics on error, for static tables wired at startup.
func (r *Registry) MustRegister(route, name string, sample any, opts ...RegisterOption) {
	if err := r.Register(route, name, sample, opts...); err != nil {
		panic(fmt.Sprintf("failed to register %s command: %v", name, err))
	}
}

// Resolve finds the descriptor for name in route. Websocket-only commands resolve only when
// allowInteractive is set.
func (r *Registry) Resolve(route, name string, allowInteractive bool) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	normalized := r.normalizeRoute(route)
	commands, ok := r.routes[normalized]
	if !ok {
		return nil, &NoSuchRouteError{Wanted: normalized, Available: r.sortedRoutes()}
	}

	d, ok := commands[name]
	if !ok {
		return nil, &UnknownCommandError{Wanted: name, Available: available(commands, allowInteractive)}
	}
	if d.WSOnly() && !allowInteractive {
		return nil, &InteractiveNotAllowedError{Wanted: name, Available: available(commands, false)}
	}
	return d, nil
}

// Bind resolves name in route and binds args against it.
func (r *Registry) Bind(route, name string, args map[string]any, env Env, allowInteractive bool) (any, error) {
	d, err := r.Resolve(route, name, allowInteractive)
	if err != nil {
		return nil, err
	}
	return d.Bind(args, env)
}

// Lookup returns the descriptor registered as name in route, ignoring websocket gating.
func (r *Registry) Lookup(route, name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.routes[r.normalizeRoute(route)][name]
	return d, ok
}

// Routes returns every route that has at least one command, sorted.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedRoutes()
}

// Available returns the sorted names bindable in route.
func (r *Registry) Available(route string, allowInteractive bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return available(r.routes[r.normalizeRoute(route)], allowInteractive)
}

// Descriptors returns the descriptors of route sorted by name.
func (r *Registry) Descriptors(route string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := r.routes[r.normalizeRoute(route)]
	descriptors := make([]*Descriptor, 0, len(commands))
	for _, d := range commands {
		descriptors = append(descriptors, d)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Base returns a copy of the registry's base Env layer.
func (r *Registry) Base() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	base := make(map[string]any, len(r.base))
	for k, v := range r.base {
		base[k] = v
	}
	return base
}

// DefaultRoute returns the route used for an empty route.
func (r *Registry) DefaultRoute() string {
	return r.defaultRoute
}

// NormalizeRoute applies the registry's route rules: empty means the default route, trailing
// slashes are dropped, and a leading slash is ensured.
func (r *Registry) NormalizeRoute(route string) string {
	return r.normalizeRoute(route)
}

func (r *Registry) normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		route = r.defaultRoute
	}
	route = strings.TrimRight(route, "/")
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

// Merge copies every command of other into r. Top-level names are prefixed with prefix and a
// slash; nested names follow their parent.
func (r *Registry) Merge(other *Registry, prefix string) error {
	if other == r {
		return fmt.Errorf("cannot merge a registry into itself")
	}

	other.mu.RLock()
	var incoming []*Descriptor
	for _, commands := range other.routes {
		for _, d := range commands {
			incoming = append(incoming, d)
		}
	}
	other.mu.RUnlock()

	// Parents must be copied before their children.
	sort.Slice(incoming, func(i, j int) bool {
		di, dj := depth(incoming[i]), depth(incoming[j])
		if di != dj {
			return di < dj
		}
		if incoming[i].Route != incoming[j].Route {
			return incoming[i].Route < incoming[j].Route
		}
		return incoming[i].Name < incoming[j].Name
	})

	prefix = normalizePrefix(prefix, false)

	r.mu.Lock()
	defer r.mu.Unlock()

	copies := make(map[*Descriptor]*Descriptor, len(incoming))
	for _, d := range incoming {
		merged := *d
		if d.Parent != nil {
			merged.Parent = copies[d.Parent]
			merged.Name = merged.Parent.Name + strings.TrimPrefix(d.Name, d.Parent.Name)
		} else if prefix != "" {
			merged.Name = joinPrefix(prefix, d.Name)
		}
		if _, exists := r.routes[merged.Route][merged.Name]; exists {
			return &DuplicateCommandError{Route: merged.Route, Name: merged.Name}
		}
		if r.routes[merged.Route] == nil {
			r.routes[merged.Route] = make(map[string]*Descriptor)
		}
		r.routes[merged.Route][merged.Name] = &merged
		if _, exists := r.types[merged.Type]; !exists {
			r.types[merged.Type] = &merged
		}
		copies[d] = &merged
	}
	return nil
}

// Clone returns an independent registry with the same commands and options.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewRegistry(WithDefaultRoute(r.defaultRoute), WithBase(r.base))
	clone.prefix = r.prefix
	for route, commands := range r.routes {
		clone.routes[route] = make(map[string]*Descriptor, len(commands))
		for name, d := range commands {
			clone.routes[route][name] = d
		}
	}
	for t, d := range r.types {
		clone.types[t] = d
	}
	return clone
}

func (r *Registry) sortedRoutes() []string {
	routes := make([]string, 0, len(r.routes))
	for route := range r.routes {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

func available(commands map[string]*Descriptor, allowInteractive bool) []string {
	names := make([]string, 0, len(commands))
	for name, d := range commands {
		if d.WSOnly() && !allowInteractive {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func commandType(sample any) (reflect.Type, reflect.Value, error) {
	if sample == nil {
		return nil, reflect.Value{}, fmt.Errorf("%w: nil sample", ErrNotCommand)
	}
	t := reflect.TypeOf(sample)
	v := reflect.ValueOf(sample)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		if v.IsNil() {
			v = reflect.Value{}
		} else {
			v = v.Elem()
		}
	}
	if t.Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("%w: %s is not a struct", ErrNotCommand, t)
	}
	return t, v, nil
}

func classify(t reflect.Type) (bool, error) {
	pt := reflect.PointerTo(t)
	switch {
	case pt.Implements(interactiveType):
		return true, nil
	case pt.Implements(simpleType):
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", ErrNotCommand, t)
}

func describe(t reflect.Type) string {
	if d, ok := reflect.New(t).Interface().(Describer); ok {
		return d.Description()
	}
	return ""
}

func depth(d *Descriptor) int {
	n := 0
	for p := d.Parent; p != nil; p = p.Parent {
		n++
	}
	return n
}

func normalizePrefix(prefix string, trailingSlash bool) string {
	if prefix == "" {
		return ""
	}
	if trailingSlash {
		if !strings.HasSuffix(prefix, "/") {
			return prefix + "/"
		}
		return prefix
	}
	return strings.TrimRight(prefix, "/")
}

func joinPrefix(prefix, name string) string {
	if strings.HasSuffix(prefix, "/") || strings.HasPrefix(name, "/") {
		return prefix + name
	}
	return prefix + "/" + name
}
