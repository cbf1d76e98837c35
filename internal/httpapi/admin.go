package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/export"
	"qrattend/internal/qr"
	"qrattend/internal/registry"
)

const adminSubject = "admin"

func (s *Server) login(c *gin.Context) {
	var req struct {
		Password string `json:"password" form:"password"`
	}
	if err := c.ShouldBind(&req); err != nil || req.Password == "" {
		badRequest(c, "password is required")
		return
	}
	if !s.deps.Password.Check(req.Password) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid password", "code": "unauthorized"})
		return
	}
	session, err := auth.Issue(adminSubject, auth.RoleAdmin, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.SessionTTL)
	if err != nil {
		writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) activate(c *gin.Context) {
	var req struct {
		Slot string `json:"slot" form:"slot"`
	}
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	slot := strings.TrimSpace(req.Slot)
	if err := s.deps.Registry.Activate(c.Request.Context(), slot); err != nil {
		if errors.Is(err, registry.ErrEmptySlot) {
			badRequest(c, "slot is required")
			return
		}
		writeError(c, "activate", err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SlotActivated()
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot, "active": true})
}

func (s *Server) deactivate(c *gin.Context) {
	if err := s.deps.Registry.Deactivate(c.Request.Context()); err != nil {
		writeError(c, "deactivate", err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SlotDeactivated()
	}
	c.JSON(http.StatusOK, gin.H{"active": false})
}

func (s *Server) active(c *gin.Context) {
	ctx := c.Request.Context()
	slot, ok, err := s.deps.Registry.Active(ctx)
	if err != nil {
		writeError(c, "active slot", err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	body := gin.H{"active": true, "slot": slot}
	b, found, err := s.deps.Registry.Binding(ctx, slot)
	if err != nil {
		writeError(c, "active binding", err)
		return
	}
	if found {
		body["token"] = b.Token
		body["link"] = qr.Link(s.cfg.BaseURL, b.Token)
		body["issued_at"] = b.IssuedAt
		body["expires_at"] = b.IssuedAt.Add(s.deps.Guard.TTL())
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) issueToken(c *gin.Context) {
	slot := c.Param("slot")
	tok, err := s.deps.Registry.IssueToken(c.Request.Context(), slot)
	if err != nil {
		writeError(c, "issue token", err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.TokenIssued()
	}
	c.JSON(http.StatusCreated, gin.H{
		"slot":        tok.Slot,
		"token":       tok.Raw,
		"link":        qr.Link(s.cfg.BaseURL, tok.Raw),
		"issued_at":   tok.IssuedAt,
		"ttl_seconds": int(s.deps.Guard.TTL().Seconds()),
	})
}

// qrImage renders the current token of slot. It never issues a new one.
func (s *Server) qrImage(c *gin.Context) {
	slot := c.Param("slot")
	b, ok, err := s.deps.Registry.Binding(c.Request.Context(), slot)
	if err != nil {
		writeError(c, "qr binding", err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no token issued for slot", "code": "not_found"})
		return
	}
	png, err := qr.PNG(qr.Link(s.cfg.BaseURL, b.Token), s.cfg.QRSize)
	if err != nil {
		writeError(c, "qr render", err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) records(c *gin.Context) ([]attendance.Record, error) {
	if slot := c.Query("slot"); slot != "" {
		return s.deps.Ledger.ListBySlot(c.Request.Context(), slot)
	}
	return s.deps.Ledger.ListAll(c.Request.Context())
}

func (s *Server) listRecords(c *gin.Context) {
	recs, err := s.records(c)
	if err != nil {
		writeError(c, "list records", err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

func (s *Server) exportRecords(c *gin.Context) {
	recs, err := s.records(c)
	if err != nil {
		writeError(c, "export records", err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, recs); err != nil {
		writeError(c, "export xlsx", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(c.Query("slot"), s.now())+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// purgeRecords deletes one slot's records, or everything when all=true.
func (s *Server) purgeRecords(c *gin.Context) {
	slot := c.Query("slot")
	if slot == "" && c.Query("all") != "true" {
		badRequest(c, "slot or all=true is required")
		return
	}
	n, err := s.deps.Ledger.Purge(c.Request.Context(), slot)
	if err != nil {
		writeError(c, "purge records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
