package tools

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpbridge/internal/server"
	"github.com/teemow/mcpbridge/internal/tools/common"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Tool is a tool definition together with its handler.
type Tool struct {
	Definition mcp.Tool
	Handler    common.ToolHandler

	// Operation names the upstream operation the tool performs, if any. It
	// is recorded on spans and audit entries.
	Operation string
}

// Registry collects the tools the server exposes. Tools are registered
// explicitly at startup and installed on the protocol core in one step.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Definition.Name
	if name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Install adds every registered tool to s. Each handler is wrapped with
// spans, metrics and audit logging.
func (r *Registry) Install(s *mcpserver.MCPServer, sc *server.ServerContext) {
	for _, name := range r.Names() {
		t, _ := r.Lookup(name)
		s.AddTool(t.Definition, common.InstrumentedToolHandlerWithOperation(name, t.Operation, sc, t.Handler))
	}
	sc.Logger().Debug("tools installed", "tools", r.Names())
}
