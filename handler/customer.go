package handler

import (
	"github.com/aisgo/ais-tenancy/customer"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/response"

	"github.com/gofiber/fiber/v3"
)

func (h *Handler) listCustomers(c fiber.Ctx) error {
	var in customer.ListInput
	if err := c.Bind().Query(&in); err != nil {
		return response.Error(c, errors.Wrap(errors.ErrCodeInvalidArgument, "invalid query", err))
	}
	page, err := h.customers.List(c.Context(), in)
	if err != nil {
		return response.Error(c, err)
	}
	return response.PageData(c, page.List, page.Total, page.Page, page.PageSize)
}

func (h *Handler) createCustomer(c fiber.Ctx) error {
	var in customer.CreateInput
	if err := bind(c, &in); err != nil {
		return response.Error(c, err)
	}
	cu, err := h.customers.Create(c.Context(), in)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, cu)
}

func (h *Handler) getCustomer(c fiber.Ctx) error {
	cu, err := h.customers.Get(c.Context(), c.Params("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, cu)
}

func (h *Handler) updateCustomer(c fiber.Ctx) error {
	var in customer.UpdateInput
	if err := bind(c, &in); err != nil {
		return response.Error(c, err)
	}
	cu, err := h.customers.Update(c.Context(), c.Params("id"), in)
	if err != nil {
		return response.Error(c, err)
	}
	return response.OkWithData(c, cu)
}

func (h *Handler) deleteCustomer(c fiber.Ctx) error {
	if err := h.customers.Delete(c.Context(), c.Params("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Ok(c)
}
