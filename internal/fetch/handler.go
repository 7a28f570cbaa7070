// Package fetch answers fetch events by server-side rendering the greeting page.
package fetch

import (
	"bytes"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"edgessr/internal/render"
	u "edgessr/internal/utils"
)

// ErrNilRenderer is returned by NewHandler when no renderer is supplied.
var ErrNilRenderer = errors.New("fetch: nil renderer")

// Handler reads the visitor name from a request header, renders the page and
// replies with text/html.
type Handler struct {
	renderer    render.Renderer
	nameHeader  string
	defaultName string

	// Now is the handler's clock. Tests freeze it.
	Now func() time.Time
}

// NewHandler builds a Handler from the render section of the config.
func NewHandler(cfg u.RenderConfig, renderer render.Renderer) (*Handler, error) {
	if renderer == nil {
		return nil, ErrNilRenderer
	}
	h := &Handler{
		renderer:    renderer,
		nameHeader:  cfg.NameHeader,
		defaultName: cfg.DefaultName,
		Now:         time.Now,
	}
	if h.nameHeader == "" {
		h.nameHeader = u.DefaultNameHeader
	}
	if h.defaultName == "" {
		h.defaultName = u.DefaultDisplayName
	}
	return h, nil
}

// Context builds the render context for a header value. When the header was
// not sent (ok is false) the default name is used; a sent but empty header
// renders as an empty name.
func (h *Handler) Context(name string, ok bool) render.RenderContext {
	if !ok {
		name = h.defaultName
	}
	return render.NewRenderContext(name, h.Now())
}

// lookupName returns the first value of the name header and whether the
// header was present at all.
func (h *Handler) lookupName(c *fiber.Ctx) (string, bool) {
	var (
		value string
		found bool
	)
	key := []byte(h.nameHeader)
	c.Request().Header.VisitAll(func(k, v []byte) {
		if !found && bytes.EqualFold(k, key) {
			value, found = string(v), true
		}
	})
	return value, found
}

// Serve is the fetch listener. Render failures are returned unchanged so the
// app's error handler aborts the request.
func (h *Handler) Serve(c *fiber.Ctx) error {
	rc := h.Context(h.lookupName(c))

	body, err := h.renderer.Render(c.UserContext(), rc)
	if err != nil {
		u.Error("Render failed", "path", c.Path(), "request_id", c.GetRespHeader(fiber.HeaderXRequestID), "error", err)
		return err
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTML)
	return c.SendString(body)
}
