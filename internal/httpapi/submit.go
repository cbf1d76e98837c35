package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
)

type submitRequest struct {
	Token       string `json:"token" form:"token"`
	PIN         string `json:"pin" form:"pin"`
	StudentName string `json:"student_name" form:"student_name"`
	Roll        string `json:"roll" form:"roll"`
}

// inspect validates the scanned link before the student fills the form.
func (s *Server) inspect(c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		badRequest(c, "token is required")
		return
	}
	tok, err := s.deps.Guard.Inspect(c.Request.Context(), raw)
	if err != nil {
		writeError(c, "inspect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"slot":       tok.Slot,
		"issued_at":  tok.IssuedAt,
		"expires_at": tok.IssuedAt.Add(s.deps.Guard.TTL()),
	})
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	if req.Token == "" {
		badRequest(c, "token is required")
		return
	}
	if strings.TrimSpace(req.StudentName) == "" || strings.TrimSpace(req.Roll) == "" {
		badRequest(c, "student_name and roll are required")
		return
	}

	rec, err := s.deps.Guard.Submit(c.Request.Context(), attendance.Submission{
		Token:       req.Token,
		PIN:         req.PIN,
		StudentName: req.StudentName,
		Roll:        req.Roll,
		SourceIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, "submit", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"record_id": rec.ID,
		"slot":      rec.Slot,
		"timestamp": rec.Timestamp,
	})
}
