package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/a-h/templ"
)

// Renderer produces markup for a RenderContext. Render may block until the
// markup is ready; it must honour ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, rc RenderContext) (string, error)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(ctx context.Context, rc RenderContext) (string, error)

func (f RendererFunc) Render(ctx context.Context, rc RenderContext) (string, error) {
	return f(ctx, rc)
}

// TemplRenderer renders a templ component built from the context. A nil
// Component renders Page.
type TemplRenderer struct {
	Component func(RenderContext) templ.Component
}

// NewTemplRenderer returns a renderer for the greeting page.
func NewTemplRenderer() *TemplRenderer {
	return &TemplRenderer{Component: Page}
}

func (r *TemplRenderer) Render(ctx context.Context, rc RenderContext) (string, error) {
	build := Page
	if r != nil && r.Component != nil {
		build = r.Component
	}
	var buf bytes.Buffer
	if err := build(rc).Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}
