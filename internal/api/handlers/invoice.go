package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coach-service/internal/models"
	"coach-service/internal/services"
)

type InvoiceHandler struct {
	invoiceService *services.InvoiceService
}

func NewInvoiceHandler(invoiceService *services.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

// ListInvoices godoc
// @Summary List invoices
// @Tags invoices
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Invoice
// @Router /invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.invoiceService.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

// GetInvoice godoc
// @Summary Get an invoice
// @Tags invoices
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Success 200 {object} models.Invoice
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.invoiceService.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// CreateInvoice godoc
// @Summary Create a draft invoice
// @Description Only coaches can bill their clients
// @Tags invoices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateInvoiceRequest true "Invoice data"
// @Success 201 {object} models.Invoice
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req models.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	invoice, err := h.invoiceService.Create(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

// UpdateInvoice godoc
// @Summary Update an invoice
// @Description Coaches edit their invoices; clients may only mark a sent invoice as paid
// @Tags invoices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param request body models.UpdateInvoiceRequest true "Fields to change"
// @Success 200 {object} models.Invoice
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /invoices/{id} [put]
func (h *InvoiceHandler) UpdateInvoice(c *gin.Context) {
	var req models.UpdateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	invoice, err := h.invoiceService.Update(c.Request.Context(), currentUser(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// DeleteInvoice godoc
// @Summary Delete a draft invoice
// @Tags invoices
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Success 204
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /invoices/{id} [delete]
func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	if err := h.invoiceService.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadInvoiceDocument godoc
// @Summary Attach a PDF to an invoice
// @Description Coaches upload the invoice document; both stakeholders receive the updated invoice
// @Tags invoices
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Invoice ID"
// @Param file formData file true "PDF document"
// @Success 200 {object} models.Invoice
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /invoices/{id}/document [post]
func (h *InvoiceHandler) UploadInvoiceDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	src, err := file.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer src.Close()

	invoice, err := h.invoiceService.AttachDocument(c.Request.Context(), currentUser(c), c.Param("id"), services.DocumentUpload{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Body:        src,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}
