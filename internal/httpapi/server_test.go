package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/registry"
	"qrattend/internal/token"
)

const (
	adminPassword = "correct horse"
	teacherPIN    = "2468"
	signingKey    = "admin-signing-key"
)

func init() { gin.SetMode(gin.TestMode) }

var passwordHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	t       *testing.T
	clk     *clock
	ledger  attendance.Ledger
	handler http.Handler
	session string
}

type option func(*Deps)

func newEnv(t *testing.T, opts ...option) *env {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec("slot-secret", "qrattend", token.WithClock(clk.Now))
	require.NoError(t, err)
	reg := registry.New(registry.NewMemoryStore(), codec)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	pw, err := auth.NewPasswordChecker("", passwordHash)
	require.NoError(t, err)

	deps := Deps{
		Registry: reg,
		Ledger:   attendance.NewMemoryLedger(),
		Password: pw,
		Metrics:  m,
		Gatherer: promReg,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	deps.Guard = attendance.NewService(codec, reg, deps.Ledger,
		attendance.Policy{PIN: teacherPIN, TTL: 600 * time.Second},
		attendance.WithClock(clk.Now), attendance.WithAuditor(m))

	srv := New(Config{
		BaseURL:       "https://attend.example.edu",
		QRSize:        128,
		JWTSigningKey: signingKey,
		JWTIssuer:     "qrattend-admin",
	}, deps)
	h, err := srv.Handler()
	require.NoError(t, err)
	return &env{t: t, clk: clk, ledger: deps.Ledger, handler: h}
}

type call struct {
	method, path string
	body         any
	authz        string
	userAgent    string
}

func (e *env) do(c call) *httptest.ResponseRecorder {
	e.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(e.t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authz != "" {
		req.Header.Set("Authorization", c.authz)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *env) admin(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	if e.session == "" {
		w := e.do(call{method: http.MethodPost, path: "/v1/admin/login", body: gin.H{"password": adminPassword}})
		require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
		var s auth.Session
		require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &s))
		e.session = s.Token
	}
	return e.do(call{method: method, path: path, body: body, authz: "Bearer " + e.session})
}

func (e *env) openSlot(slot string) string {
	e.t.Helper()
	w := e.admin(http.MethodPost, "/v1/admin/slots/activate", gin.H{"slot": slot})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return e.issue(slot)
}

func (e *env) issue(slot string) string {
	e.t.Helper()
	w := e.admin(http.MethodPost, "/v1/admin/slots/"+slot+"/token", nil)
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Slot       string `json:"slot"`
		Token      string `json:"token"`
		Link       string `json:"link"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(e.t, slot, out.Slot)
	assert.Equal(e.t, 600, out.TTLSeconds)
	assert.True(e.t, strings.HasPrefix(out.Link, "https://attend.example.edu/submit?token="))
	return out.Token
}

func (e *env) submit(tok, pin, ua string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(call{
		method:    http.MethodPost,
		path:      "/v1/submit",
		body:      gin.H{"token": tok, "pin": pin, "student_name": "Ada", "roll": "42"},
		userAgent: ua,
	})
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	assert.NotEmpty(t, body.Error)
	return body.Code
}

func TestSubmitFlow(t *testing.T) {
	e := newEnv(t)
	tok := e.openSlot("CS101")

	w := e.do(call{method: http.MethodGet, path: "/v1/submit?token=" + tok})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"slot":"CS101"`)

	w = e.submit(tok, teacherPIN, "phone-a")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		RecordID string `json:"record_id"`
		Slot     string `json:"slot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.RecordID)
	assert.Equal(t, "CS101", created.Slot)

	w = e.submit(tok, teacherPIN, "phone-a")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.CodeDuplicate, errorCode(t, w))

	w = e.submit(tok, teacherPIN, "phone-b")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = e.admin(http.MethodGet, "/v1/admin/records?slot=CS101", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Records []attendance.Record `json:"records"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, 2, listed.Count)
	assert.Equal(t, "Ada", listed.Records[0].StudentName)
}

func TestIssuedLinkIsServed(t *testing.T) {
	e := newEnv(t)
	w := e.admin(http.MethodPost, "/v1/admin/slots/activate", gin.H{"slot": "CS101"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.admin(http.MethodPost, "/v1/admin/slots/CS101/token", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var issued struct {
		Link string `json:"link"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	link, err := url.Parse(issued.Link)
	require.NoError(t, err)

	w = e.do(call{method: http.MethodGet, path: link.RequestURI()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"slot":"CS101"`)

	w = e.do(call{
		method: http.MethodPost,
		path:   link.RequestURI(),
		body:   gin.H{"pin": teacherPIN, "student_name": "Ada", "roll": "42"},
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.admin(http.MethodGet, "/v1/admin/slots/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active struct {
		Link string `json:"link"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Equal(t, issued.Link, active.Link)
}

func TestSubmitRejections(t *testing.T) {
	e := newEnv(t)
	tok := e.openSlot("CS101")

	w := e.submit(tok, "0000", "ua")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, attendance.CodeWrongPIN, errorCode(t, w))

	w = e.submit("not-a-token", teacherPIN, "ua")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, attendance.CodeMalformed, errorCode(t, w))

	forger, err := token.NewCodec("other-secret", "qrattend", token.WithClock(e.clk.Now))
	require.NoError(t, err)
	forged, err := forger.Issue("CS101")
	require.NoError(t, err)
	w = e.submit(forged.Raw, teacherPIN, "ua")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, attendance.CodeTampered, errorCode(t, w))

	newer := e.issue("CS101")
	w = e.submit(tok, teacherPIN, "ua")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.CodeRevoked, errorCode(t, w))

	e.clk.Advance(601 * time.Second)
	w = e.submit(newer, teacherPIN, "ua")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, attendance.CodeExpired, errorCode(t, w))

	recs, err := e.ledger.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSubmitValidatesBody(t *testing.T) {
	e := newEnv(t)
	tok := e.openSlot("CS101")

	w := e.do(call{method: http.MethodPost, path: "/v1/submit", body: gin.H{"token": tok, "pin": teacherPIN}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeBadRequest, errorCode(t, w))

	w = e.do(call{method: http.MethodGet, path: "/v1/submit"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitAcceptsTokenFromQuery(t *testing.T) {
	e := newEnv(t)
	tok := e.openSlot("CS101")

	w := e.do(call{
		method: http.MethodPost,
		path:   "/v1/submit?token=" + tok,
		body:   gin.H{"pin": teacherPIN, "student_name": "Ada", "roll": "42"},
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAdminRequiresSession(t *testing.T) {
	e := newEnv(t)

	w := e.do(call{method: http.MethodPost, path: "/v1/admin/slots/activate", body: gin.H{"slot": "CS101"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(call{method: http.MethodPost, path: "/v1/admin/login", body: gin.H{"password": "nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(call{method: http.MethodPost, path: "/v1/admin/login", body: gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueTokenNeedsActiveSlot(t *testing.T) {
	e := newEnv(t)

	w := e.admin(http.MethodPost, "/v1/admin/slots/CS101/token", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, attendance.CodeNoActiveSlot, errorCode(t, w))

	w = e.admin(http.MethodPost, "/v1/admin/slots/activate", gin.H{"slot": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueTokenTrimsSlotParam(t *testing.T) {
	e := newEnv(t)
	w := e.admin(http.MethodPost, "/v1/admin/slots/activate", gin.H{"slot": "classA "})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.admin(http.MethodPost, "/v1/admin/slots/classA%20/token", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"slot":"classA"`)
}

func TestActiveSlotAndDeactivate(t *testing.T) {
	e := newEnv(t)

	w := e.admin(http.MethodGet, "/v1/admin/slots/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"active":false}`, w.Body.String())

	tok := e.openSlot("CS101")
	w = e.admin(http.MethodGet, "/v1/admin/slots/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), tok)

	w = e.admin(http.MethodPost, "/v1/admin/slots/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.admin(http.MethodPost, "/v1/admin/slots/CS101/token", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// an already issued token stays usable after deactivation
	assert.Equal(t, http.StatusCreated, e.submit(tok, teacherPIN, "ua").Code)
}

func TestQRImage(t *testing.T) {
	e := newEnv(t)
	w := e.admin(http.MethodPost, "/v1/admin/slots/activate", gin.H{"slot": "CS101"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.admin(http.MethodGet, "/v1/admin/slots/CS101/qr.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.issue("CS101")
	w = e.admin(http.MethodGet, "/v1/admin/slots/CS101/qr.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestExportAndPurge(t *testing.T) {
	e := newEnv(t)
	a := e.openSlot("CS101")
	require.Equal(t, http.StatusCreated, e.submit(a, teacherPIN, "ua").Code)
	b := e.openSlot("CS102")
	require.Equal(t, http.StatusCreated, e.submit(b, teacherPIN, "ua").Code)

	w := e.admin(http.MethodGet, "/v1/admin/records/export?slot=CS101", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_CS101_")
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	w = e.admin(http.MethodDelete, "/v1/admin/records", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.admin(http.MethodDelete, "/v1/admin/records?slot=CS101", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

	w = e.admin(http.MethodDelete, "/v1/admin/records?all=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

	w = e.admin(http.MethodGet, "/v1/admin/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records":[],"count":0}`, w.Body.String())
}

type brokenLedger struct {
	*attendance.MemoryLedger
}

func (brokenLedger) Exists(context.Context, string, string) (bool, error) {
	return false, errors.New("connection reset")
}

func TestStorageFailureIs500(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Ledger = brokenLedger{attendance.NewMemoryLedger()} })
	tok := e.openSlot("CS101")

	w := e.submit(tok, teacherPIN, "ua")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, attendance.CodeInternalFailed, errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "connection reset")
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

func TestSubmitIsRateLimited(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Limiter = denyAll{} })
	w := e.do(call{method: http.MethodGet, path: "/v1/submit?token=x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Limiter = httpmiddleware.NewTokenBucket(2, 1) })
	for i := 0; i < 2; i++ {
		assert.NotEqual(t, http.StatusTooManyRequests, e.do(call{method: http.MethodGet, path: "/v1/submit"}).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, e.do(call{method: http.MethodGet, path: "/v1/submit"}).Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Health = map[string]HealthCheck{
			"db":    func(context.Context) bool { return true },
			"redis": func(context.Context) bool { return false },
		}
	})
	w := e.do(call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","db":true,"redis":false}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	tok := e.openSlot("CS101")
	e.submit(tok, teacherPIN, "ua")
	e.submit(tok, teacherPIN, "ua")

	w := e.do(call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `attendance_submissions_total{outcome="accepted"} 1`)
	assert.Contains(t, body, `attendance_submissions_total{outcome="duplicate_submission"} 1`)
	assert.Contains(t, body, `attendance_tokens_issued_total 1`)
}

func TestSecurityHeaders(t *testing.T) {
	e := newEnv(t)
	w := e.do(call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
