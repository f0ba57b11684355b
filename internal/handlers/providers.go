package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/patchin/backend/internal/providers"
	"github.com/patchin/backend/pkg/utils"
)

type ProvidersHandler struct {
	Registry *providers.Registry
}

func NewProvidersHandler(registry *providers.Registry) *ProvidersHandler {
	return &ProvidersHandler{Registry: registry}
}

type providerInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Configured  bool   `json:"configured"`
}

// List reports every supported provider and whether credentials are set,
// so the dashboard can grey out the ones that are not connectable.
func (h *ProvidersHandler) List(c *fiber.Ctx) error {
	names := h.Registry.Names()
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		p, ok := h.Registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, providerInfo{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Configured:  p.Configured(),
		})
	}
	return utils.Success(c, fiber.StatusOK, out)
}
