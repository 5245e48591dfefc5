package commands

import "sort"

// Well-known keys that the runtime injects into every Env.
const (
	KeyProgress      = "progress_cb"
	KeyHandler       = "request_handler"
	KeyRequestFuture = "request_future"
	KeyCommander     = "commander"
	KeyExecutor      = "executor"
	KeyRegistry      = "registry"
	KeyMessageID     = "message_id"
	KeyParentCommand = "_parent_command"
	KeyFinal         = "final"
	KeyConnection    = "connection"
)

// Env is the layered context that injected fields are resolved from.
// Layers are never mutated once added; With returns a new Env.
type Env struct {
	layers []map[string]any
}

// NewEnv creates an Env whose bottom layer is a copy of base.
func NewEnv(base map[string]any) Env {
	return Env{}.With(base)
}

// With returns a new Env with layer on top. The receiver is left untouched.
func (e Env) With(layer map[string]any) Env {
	if len(layer) == 0 {
		return e
	}
	copied := make(map[string]any, len(layer))
	for k, v := range layer {
		copied[k] = v
	}
	layers := make([]map[string]any, len(e.layers), len(e.layers)+1)
	copy(layers, e.layers)
	return Env{layers: append(layers, copied)}
}

// Set returns a new Env with a single key layered on top.
func (e Env) Set(key string, value any) Env {
	return e.With(map[string]any{key: value})
}

// Lookup finds key in the newest layer that has it.
func (e Env) Lookup(key string) (any, bool) {
	for i := len(e.layers) - 1; i >= 0; i-- {
		if v, ok := e.layers[i][key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Keys returns every key visible in the Env, sorted.
func (e Env) Keys() []string {
	flat := e.Flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten merges all layers into one map, newer layers winning.
func (e Env) Flatten() map[string]any {
	flat := make(map[string]any)
	for _, layer := range e.layers {
		for k, v := range layer {
			flat[k] = v
		}
	}
	return flat
}
