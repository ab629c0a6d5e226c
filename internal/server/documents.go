package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	documentdomain "github.com/smallbiznis/kantoor/internal/document/domain"
	"github.com/smallbiznis/kantoor/pkg/db/pagination"
)

func documentKind(c *gin.Context) (documentdomain.Kind, bool) {
	kind := documentdomain.Kind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if !kind.Valid() {
		AbortWithError(c, documentdomain.ErrInvalidKind)
		return "", false
	}
	return kind, true
}

func (s *Server) CreateDocument(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}

	var req documentdomain.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Kind = kind
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.ClientID = strings.TrimSpace(req.ClientID)

	resp, err := s.documentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListDocuments(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}

	var query struct {
		Status    string `form:"status"`
		CompanyID string `form:"company_id"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.documentSvc.List(c.Request.Context(), documentdomain.ListDocumentRequest{
		Kind:       kind,
		Status:     documentdomain.Status(strings.TrimSpace(query.Status)),
		CompanyID:  strings.TrimSpace(query.CompanyID),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDocument(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}

	resp, err := s.documentSvc.Get(c.Request.Context(), kind, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateDocument(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}

	var req documentdomain.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Kind = kind
	req.ID = strings.TrimSpace(c.Param("id"))

	resp, err := s.documentSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateDocumentStatus(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}

	var req documentdomain.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Kind = kind
	req.ID = strings.TrimSpace(c.Param("id"))

	resp, err := s.documentSvc.UpdateStatus(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteDocument(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}

	if err := s.documentSvc.Delete(c.Request.Context(), kind, strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ConvertOfferte(c *gin.Context) {
	kind, ok := documentKind(c)
	if !ok {
		return
	}
	if kind != documentdomain.KindOfferte {
		AbortWithError(c, documentdomain.ErrInvalidKind)
		return
	}

	resp, err := s.documentSvc.ConvertToFactuur(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
