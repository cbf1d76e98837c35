package httpapi

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
)

const codeBadRequest = "invalid_request"

var statusByCode = map[string]int{
	attendance.CodeMalformed:    http.StatusBadRequest,
	attendance.CodeTampered:     http.StatusBadRequest,
	attendance.CodeExpired:      http.StatusGone,
	attendance.CodeRevoked:      http.StatusConflict,
	attendance.CodeWrongPIN:     http.StatusForbidden,
	attendance.CodeDuplicate:    http.StatusConflict,
	attendance.CodeNoActiveSlot: http.StatusConflict,
}

var messageByCode = map[string]string{
	attendance.CodeMalformed:    "Invalid token",
	attendance.CodeTampered:     "Invalid token",
	attendance.CodeExpired:      "Token expired",
	attendance.CodeRevoked:      "This QR code is no longer valid",
	attendance.CodeWrongPIN:     "Incorrect teacher PIN",
	attendance.CodeDuplicate:    "Attendance already recorded from this device for this slot",
	attendance.CodeNoActiveSlot: "No active slot",
}

// writeError maps err to a status and the {error, code} body. Anything outside
// the taxonomy is logged and reported as a 500.
func writeError(c *gin.Context, op string, err error) {
	if !attendance.IsRejection(err) {
		log.Printf("%s: %v", op, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": attendance.CodeInternalFailed})
		return
	}
	code := attendance.Code(err)
	c.AbortWithStatusJSON(statusByCode[code], gin.H{"error": messageByCode[code], "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": codeBadRequest})
}
