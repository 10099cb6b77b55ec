// file: internals/helpers/tenant_context.go
package helper

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

/* ===============================
   Tenant scope from request locals
   (set by the JWT middleware)
=================================*/

func GetTenantIDFromLocals(c *fiber.Ctx) (uuid.UUID, error) {
	raw, ok := c.Locals("tenant_id").(string)
	if !ok || raw == "" {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "tenant_id missing from token")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "tenant_id in token is not a valid UUID")
	}
	return id, nil
}

// GetCenterIDFromLocals is optional scope: not every token is center-bound.
func GetCenterIDFromLocals(c *fiber.Ctx) *uuid.UUID {
	raw, ok := c.Locals("center_id").(string)
	if !ok || raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
