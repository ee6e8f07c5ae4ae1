package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/service"
)

// resourceHandlers CRUD маршруты одного вида сущностей поверх Engine
type resourceHandlers struct {
	engine *service.Engine
}

// @Summary Create document
// @Tags resources
// @Accept json
// @Produce json
// @Param resource path string true "products, partners, events, contacts or carts"
// @Param input body map[string]interface{} true "Document fields"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /{resource} [post]
func (h resourceHandlers) create(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	doc, err := h.engine.Create(c.Request.Context(), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": doc})
}

// @Summary List documents
// @Description Query string: field=value, field[gte|gt|lte|lt]=value, keyword, sort, fields, page, limit.
// @Tags resources
// @Produce json
// @Param resource path string true "Resource"
// @Param keyword query string false "Search keyword"
// @Param sort query string false "Comma separated fields, '-' for descending"
// @Param fields query string false "Comma separated projection"
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size"
// @Success 200 {object} service.ListResult
// @Router /{resource} [get]
func (h resourceHandlers) list(c *gin.Context) {
	res, err := h.engine.ReadAll(c.Request.Context(), nil, c.Request.URL.Query())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Get document by id
// @Tags resources
// @Produce json
// @Param resource path string true "Resource"
// @Param id path string true "Document ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /{resource}/{id} [get]
func (h resourceHandlers) get(c *gin.Context) {
	doc, err := h.engine.ReadOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

// @Summary Update document
// @Tags resources
// @Accept json
// @Produce json
// @Param resource path string true "Resource"
// @Param id path string true "Document ID"
// @Param input body map[string]interface{} true "Fields to change"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /{resource}/{id} [put]
func (h resourceHandlers) update(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	doc, err := h.engine.Update(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

// @Summary Delete document
// @Tags resources
// @Param resource path string true "Resource"
// @Param id path string true "Document ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /{resource}/{id} [delete]
func (h resourceHandlers) delete(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Delete all documents
// @Tags resources
// @Param resource path string true "Resource"
// @Success 204
// @Router /{resource} [delete]
func (h resourceHandlers) deleteAll(c *gin.Context) {
	if _, err := h.engine.DeleteAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
