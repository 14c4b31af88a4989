package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrRejected is wrapped by RunBefore when a plugin rejects a link.
var ErrRejected = errors.New("link rejected")

// Registration names a plugin and the stage it runs at.
type Registration struct {
	Name  string
	Type  PluginType
	Stage Stage
}

// Manager runs the registered plugins for each stage in registration order.
type Manager struct {
	before []Plugin
	after  []Plugin
	onErr  []Plugin
}

// NewManager creates a new plugin manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds p at stage.
func (m *Manager) Register(stage Stage, p Plugin) error {
	switch stage {
	case StageBeforeEmbed:
		m.before = append(m.before, p)
	case StageAfterEmbed:
		m.after = append(m.after, p)
	case StageOnError:
		m.onErr = append(m.onErr, p)
	default:
		return fmt.Errorf("unknown plugin stage: %s", stage)
	}
	slog.Debug("plugin registered", "name", p.Name(), "type", p.Type(), "stage", stage)
	return nil
}

// RunBefore executes the before_embed plugins. A plugin error or rejection
// stops the chain; rejections wrap ErrRejected.
func (m *Manager) RunBefore(ctx context.Context, pctx *Context) error {
	for _, p := range m.before {
		if err := p.Execute(ctx, pctx); err != nil {
			return fmt.Errorf("plugin %s failed: %w", p.Name(), err)
		}
		if pctx.Reject {
			return fmt.Errorf("%w by %s: %s", ErrRejected, p.Name(), pctx.Reason)
		}
		if pctx.Skip {
			break
		}
	}
	return nil
}

// RunAfter executes the after_embed plugins. Plugin errors are logged and
// do not stop the chain; a rejection clears the markup so the anchor stays.
func (m *Manager) RunAfter(ctx context.Context, pctx *Context) error {
	for _, p := range m.after {
		if err := p.Execute(ctx, pctx); err != nil {
			slog.Warn("after-embed plugin error", "plugin", p.Name(), "error", err)
		}
		if pctx.Reject {
			pctx.Markup = ""
			return fmt.Errorf("%w by %s: %s", ErrRejected, p.Name(), pctx.Reason)
		}
		if pctx.Skip {
			break
		}
	}
	return nil
}

// RunOnError executes the on_error plugins.
func (m *Manager) RunOnError(ctx context.Context, pctx *Context) {
	for _, p := range m.onErr {
		if err := p.Execute(ctx, pctx); err != nil {
			slog.Warn("on-error plugin error", "plugin", p.Name(), "error", err)
		}
	}
}

// HasPlugins returns true if any plugins are registered.
func (m *Manager) HasPlugins() bool {
	return m != nil && len(m.before)+len(m.after)+len(m.onErr) > 0
}

// Registrations lists the loaded plugins by stage.
func (m *Manager) Registrations() []Registration {
	var out []Registration
	add := func(stage Stage, list []Plugin) {
		for _, p := range list {
			out = append(out, Registration{Name: p.Name(), Type: p.Type(), Stage: stage})
		}
	}
	add(StageBeforeEmbed, m.before)
	add(StageAfterEmbed, m.after)
	add(StageOnError, m.onErr)
	return out
}
