// Package tools implements the function registry the model can call
// during a conversation. Dispatch never fails the call path: every
// outcome, including unknown functions and handler errors, becomes a
// well-formed result string handed back to the model.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownFunction is returned when a call names no registered tool.
var ErrUnknownFunction = errors.New("tools: unknown function")

// Tool represents a function the model can invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(args map[string]any) (string, error)
}

// Registry is a static set of tools, populated at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Definitions returns the tool schemas in the shape the realtime session
// configuration expects.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]map[string]any, 0, len(r.tools))
	for _, tool := range r.tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  params,
		})
	}
	return defs
}

// Call looks up and invokes a tool. Arguments arrive as the structured
// text payload of the function-call item.
func (r *Registry) Call(name, argsJSON string) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok || tool.Handler == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	args := make(map[string]any)
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("parse arguments: %w", err)
		}
	}

	return tool.Handler(args)
}

// Dispatch invokes a tool and always returns a result string suitable
// for a function-output item. Failures of any kind, including a
// panicking handler, are folded into a structured error result.
func (r *Registry) Dispatch(name, argsJSON string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			result = errorResult(fmt.Sprintf("function %s panicked: %v", name, rec))
		}
	}()

	out, err := r.Call(name, argsJSON)
	if err != nil {
		return errorResult(err.Error())
	}
	return out
}

func errorResult(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(data)
}

// GetTimeTool returns a built-in tool reporting the current time, mostly
// useful as a smoke test that tool calling round-trips.
func GetTimeTool() Tool {
	return Tool{
		Name:        "get_time",
		Description: "Get the current date and time",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(args map[string]any) (string, error) {
			return time.Now().Format("Monday, January 2, 2006 at 3:04 PM"), nil
		},
	}
}
