// Merchant admin handlers.
//
//   - PUT    /merchants/{id}/catalog                (replace catalog)
//   - GET    /merchants/{id}/orders                 (list, paginated, ETag support)
//   - DELETE /conversations/{merchantId}/{phone}    (reset a conversation)
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CatalogItemRequest is one item of a catalog upload.
type CatalogItemRequest struct {
	Name        string `json:"name"        binding:"required,max=255" example:"Mafé"`
	Description string `json:"description" example:"Lamb in peanut sauce"`
	Price       int64  `json:"price"       binding:"min=0"            example:"3500"`
	Category    string `json:"category"    example:"Plats"`
	// Available defaults to true when omitted.
	Available *bool `json:"available" example:"true"`
}

// ReplaceCatalogRequest is the JSON payload of a catalog upload.
type ReplaceCatalogRequest struct {
	Items []CatalogItemRequest `json:"items" binding:"dive"`
}

// CatalogResponse lists the stored catalog after an upload.
type CatalogResponse struct {
	Items []domain.CatalogItem `json:"items"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListOrdersResponse wraps a page of orders and pagination information.
type ListOrdersResponse struct {
	Orders     []domain.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

// ReplaceCatalog godoc
// @ID          replaceCatalog
// @Summary     Replace a merchant's catalog
// @Description Atomically replaces the whole catalog. Item order is preserved and drives ranking ties.
// @Tags        Merchants
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                           true  "Merchant ID"
// @Param       body  body  handlers.ReplaceCatalogRequest  true  "Catalog payload"
//
// @Success     200  {object}  handlers.CatalogResponse
// @Header      200  {string}  ETag  "Weak ETag of the stored catalog"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Merchant not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Invalid catalog"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/merchants/{id}/catalog [put]
func (h *Handlers) ReplaceCatalog(c *gin.Context) {
	var req ReplaceCatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	items := make([]domain.CatalogItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.CatalogItem{
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
			Category:    it.Category,
			Available:   it.Available == nil || *it.Available,
		}
	}

	ctx := c.Request.Context()
	merchantID := c.Param("id")
	out, err := h.admin.ReplaceCatalog(ctx, merchantID, items)
	if err != nil {
		failErr(c, err, ErrCodeCatalogFailed)
		return
	}
	if count, ts, err := h.admin.CatalogVersion(ctx, merchantID); err == nil {
		c.Header("ETag", fmt.Sprintf(`W/"catalog:%s:%d:%d"`, merchantID, count, ts.UnixNano()))
	}
	ok(c, http.StatusOK, CatalogResponse{Items: out})
}

// ListOrders godoc
// @ID          listOrders
// @Summary     List a merchant's orders (paginated)
// @Description Returns a page of orders, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Merchants
// @Produce     json
//
// @Param       id             path    string  true   "Merchant ID"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"orders:m1:3:1717000000\")
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListOrdersResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /api/v1/merchants/{id}/orders [get]
func (h *Handlers) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	merchantID := c.Param("id")
	page := utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)

	// ETag pre-check (best effort).
	if count, ts, err := h.admin.OrdersVersion(ctx, merchantID); err == nil {
		etag := fmt.Sprintf(`W/"orders:%s:%d:%d:%d:%d"`, merchantID, count, ts.UnixNano(), page.Number, page.Size)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	orders, total, err := h.admin.ListOrders(ctx, merchantID, page)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	totalPages := utils.TotalPages(total, page.Size)
	ok(c, http.StatusOK, ListOrdersResponse{
		Orders: orders,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page.Number < totalPages,
		},
	})
}

// ClearConversation godoc
// @ID          clearConversation
// @Summary     Reset a customer conversation
// @Description Deletes the stored history and state (pending order, shortlist, location) of one customer. For the concierge number the shared concierge conversation is cleared.
// @Tags        Conversations
//
// @Param       merchantId  path  string  true  "Merchant ID"
// @Param       phone       path  string  true  "Customer phone (wa_id)"  example(221770000001)
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Merchant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/conversations/{merchantId}/{phone} [delete]
func (h *Handlers) ClearConversation(c *gin.Context) {
	phone := strings.TrimPrefix(strings.TrimSpace(c.Param("phone")), "+")
	if phone == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone is required")
		return
	}
	if err := h.admin.ClearConversation(c.Request.Context(), c.Param("merchantId"), phone); err != nil {
		failErr(c, err, ErrCodeClearFailed)
		return
	}
	noContent(c)
}
