package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/config"
	"qrattendance/internal/qr"
	"qrattendance/internal/queue"
)

// Handler owns the HTTP endpoints.
type Handler struct {
	svc *attendance.Service
	q   queue.Queue
	cfg config.App
	now func() time.Time
}

// New creates a handler. now may be nil to use the wall clock.
func New(svc *attendance.Service, q queue.Queue, cfg config.App, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{svc: svc, q: q, cfg: cfg, now: now}
}

// Register wires all routes onto the router. The identity middleware must
// already be installed.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/login") })

	r.POST("/login", h.Login)
	r.GET("/logout", h.Logout)
	r.GET("/generate-qr", h.GenerateQR)
	r.POST("/mark-attendance", h.MarkAttendance)

	pages := r.Group("/admin", auth.RequireAdminPage())
	pages.GET("/students", h.AdminStudents)
	pages.GET("/reports", h.AdminReports)

	api := r.Group("/admin", auth.RequireAdminAPI())
	api.POST("/send-absence-notifications", h.SendAbsenceNotifications)
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Role     string `json:"role" form:"role"`
}

// Login verifies credentials, establishes the cookie session and redirects by
// role. API clients asking for JSON get a token pair instead of the redirect.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username and password are required"})
		return
	}

	who, err := h.svc.Login(c.Request.Context(), req.Username, req.Password, req.Role)
	switch {
	case errors.Is(err, attendance.ErrUnknownUser):
		c.JSON(http.StatusBadRequest, gin.H{"message": "User not found"})
		return
	case errors.Is(err, attendance.ErrWrongPassword):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Incorrect password"})
		return
	case err != nil:
		log.Printf("login failed for %s: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}

	if err := auth.SaveSession(c, who); err != nil {
		log.Printf("session save failed: %v", err)
	}

	if wantsJSON(c) {
		tokens, err := auth.Issue(who.UserID, who.Username, who.Role,
			h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"username":     who.Username,
			"role":         who.Role,
			"accessToken":  tokens.AccessToken,
			"refreshToken": tokens.RefreshToken,
			"expiresAt":    tokens.AccessExp.Unix(),
		})
		return
	}

	if who.IsAdmin() {
		c.Redirect(http.StatusFound, "/admin/dashboard")
	} else {
		c.Redirect(http.StatusFound, "/information")
	}
}

// Logout drops the session and redirects to the login page matching the role
// the session carried.
func (h *Handler) Logout(c *gin.Context) {
	if auth.ClearSession(c) == "admin" {
		c.Redirect(http.StatusFound, "/admin/login")
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// GenerateQR ensures today's attendance day exists and returns its code as a
// PNG data URL.
func (h *Handler) GenerateQR(c *gin.Context) {
	day, err := h.svc.EnsureToday(c.Request.Context(), h.now())
	if err != nil {
		log.Printf("generate qr failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate QR code"})
		return
	}
	dataURL, err := qr.Encode(day.Code)
	if err != nil {
		log.Printf("qr encode failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate QR code"})
		return
	}
	role := auth.IdentityFrom(c).Role
	if role == "" {
		role = "student"
	}
	c.JSON(http.StatusOK, gin.H{
		"date":        day.Code,
		"description": day.Description,
		"dataUrl":     dataURL,
		"role":        role,
	})
}

type markRequest struct {
	QRData string `json:"qrData" form:"qrData"`
}

// MarkAttendance runs the marking state machine for the logged-in student.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBind(&req); err != nil || req.QRData == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid QR code data"})
		return
	}

	who := auth.IdentityFrom(c)
	res, err := h.svc.Mark(c.Request.Context(), who, req.QRData, h.now())
	switch {
	case errors.Is(err, attendance.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Not authenticated. Please login first."})
		return
	case errors.Is(err, attendance.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid QR code. This QR code is not authorized for attendance."})
		return
	case errors.Is(err, attendance.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	case err != nil:
		log.Printf("mark attendance failed for %s: %v", who.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to mark attendance"})
		return
	}

	if res.AlreadyMarked {
		c.JSON(http.StatusOK, gin.H{
			"message":       "Already marked present for today",
			"timestamp":     res.Timestamp,
			"alreadyMarked": true,
		})
		return
	}

	if h.q != nil {
		if err := h.q.Publish(c.Request.Context(), queue.Message{Type: "mark", EntryID: res.EntryID}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Attendance marked successfully!",
		"qrDescription": res.DayDescription,
		"timestamp":     res.Timestamp,
	})
}

// AdminStudents returns the roster with per-student present counts.
func (h *Handler) AdminStudents(c *gin.Context) {
	students, err := h.svc.Roster(c.Request.Context())
	if err != nil {
		log.Printf("load students failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load students"})
		return
	}
	out := make([]gin.H, 0, len(students))
	for _, s := range students {
		out = append(out, gin.H{
			"username":   s.Username,
			"email":      s.Email,
			"present":    s.PresentCount(),
			"attendance": s.Entries,
		})
	}
	c.JSON(http.StatusOK, gin.H{"students": out})
}

// AdminReports returns per-student present/absent counts.
func (h *Handler) AdminReports(c *gin.Context) {
	totalDays, report, err := h.svc.Report(c.Request.Context())
	if err != nil {
		log.Printf("generate reports failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to generate reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalDays": totalDays, "report": report})
}

// SendAbsenceNotifications emails students over the absence threshold.
func (h *Handler) SendAbsenceNotifications(c *gin.Context) {
	batch, err := h.svc.SendAbsenceNotifications(c.Request.Context())
	if err != nil {
		log.Printf("send absence notifications failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to send notifications"})
		return
	}
	c.JSON(http.StatusOK, batch)
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
