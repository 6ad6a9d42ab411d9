package handler

import (
	"github.com/aisgo/ais-tenancy/company"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/middleware"
	"github.com/aisgo/ais-tenancy/response"

	"github.com/gofiber/fiber/v3"
)

// syncIdentity POST /v1/identity/sync
// 服务调用方可回填任意用户；终端用户只能回填自己
func (h *Handler) syncIdentity(c fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return response.Error(c, err)
	}
	var in company.UserProfile
	if err := bind(c, &in); err != nil {
		return response.Error(c, err)
	}
	if p.Source != middleware.SourceAPIKey {
		if in.ID == "" {
			in.ID = p.UserID
		}
		if in.ID != p.UserID {
			return response.Error(c, errors.New(errors.ErrCodePermissionDenied, "cannot sync another user"))
		}
	}
	u, err := h.companies.EnsureUserExists(c.Context(), in)
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, u)
}

// createCompany POST /v1/companies
func (h *Handler) createCompany(c fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return response.Error(c, err)
	}
	if p.Source == middleware.SourceAPIKey {
		return response.Error(c, errors.New(errors.ErrCodePermissionDenied, "companies must be created by a user"))
	}
	var in company.CreateCompanyInput
	if err := bind(c, &in); err != nil {
		return response.Error(c, err)
	}
	// 首次登录的用户可能尚未同步
	if _, err := h.companies.EnsureUserExists(c.Context(), company.UserProfile{ID: p.UserID, Email: p.Email, Name: p.Name}); err != nil {
		return response.Error(c, err)
	}
	res, err := h.companies.CreateCompanyWithOwner(c.Context(), in, p.UserID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, res)
}

// checkAccess GET /v1/companies/:tenantId/access
func (h *Handler) checkAccess(c fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return response.Error(c, err)
	}
	tenantID := c.Params("tenantId")
	ok, err := h.companies.ValidateCompanyAccess(c.Context(), tenantID, p.UserID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, fiber.Map{"tenant_id": tenantID, "allowed": ok})
}

// myPermissions GET /v1/me/permissions
func (h *Handler) myPermissions(c fiber.Ctx) error {
	g, err := middleware.ResolveGrant(c, h.resolver)
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, g)
}

// deleteCompany DELETE /v1/company
func (h *Handler) deleteCompany(c fiber.Ctx) error {
	if err := h.companies.DeleteCompany(c.Context()); err != nil {
		return response.Error(c, err)
	}
	return response.Ok(c)
}

// auditSummary GET /v1/audit/summary
func (h *Handler) auditSummary(c fiber.Ctx) error {
	counts, err := h.companies.AuditSummary(c.Context())
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, counts)
}

/* ========================================================================
 * Members
 * ======================================================================== */

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) listMembers(c fiber.Ctx) error {
	members, err := h.companies.ListMembers(c.Context())
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, members)
}

func (h *Handler) addMember(c fiber.Ctx) error {
	var in company.AddMemberInput
	if err := bind(c, &in); err != nil {
		return response.Error(c, err)
	}
	m, err := h.companies.AddMember(c.Context(), in)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, m)
}

func (h *Handler) updateMemberRole(c fiber.Ctx) error {
	var in updateRoleRequest
	if err := bind(c, &in); err != nil {
		return response.Error(c, err)
	}
	m, err := h.companies.UpdateMemberRole(c.Context(), c.Params("userId"), in.Role)
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, m)
}

func (h *Handler) removeMember(c fiber.Ctx) error {
	if err := h.companies.RemoveMember(c.Context(), c.Params("userId")); err != nil {
		return response.Error(c, err)
	}
	return response.Ok(c)
}
