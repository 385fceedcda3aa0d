package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"patientchat/internal/auth"
	"patientchat/internal/models"
	"patientchat/internal/storage"
)

// Handler wires HTTP routes to the identity service and the record store.
type Handler struct {
	auth  *auth.Service
	store storage.Store
	log   *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, store storage.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: authService, store: store, log: log}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/healthz", h.health)
	router.GET("/users", h.listUsers)
	router.GET("/user/:id", h.getUser)
	router.POST("/create_user", h.createUser)
	router.POST("/login", h.loginUser)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		h.internalError(c, "list users", err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// getUser answers 500 for ids that cannot exist, the same as any other
// store failure.
func (h *Handler) getUser(c *gin.Context) {
	user, err := h.store.FindByOpaqueID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.internalError(c, "get user", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type createUserRequest struct {
	Username  string          `json:"username"`
	Password  string          `json:"password"`
	Role      string          `json:"role"`
	Age       json.RawMessage `json:"age"`
	PatientID string          `json:"patientId"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	age, _ := parseAge(req.Age)
	id, err := h.auth.Register(c.Request.Context(), auth.RegisterRequest{
		PatientID: req.PatientID,
		Username:  req.Username,
		Password:  req.Password,
		Role:      req.Role,
		Age:       age,
	})
	switch {
	case errors.Is(err, auth.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing values"})
	case errors.Is(err, storage.ErrDuplicateKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "patientId already exists"})
	case err != nil:
		h.internalError(c, "create user", err)
	default:
		c.JSON(http.StatusCreated, gin.H{"message": "User created successfully", "user_id": id})
	}
}

type loginRequest struct {
	PatientID string `json:"patientId"`
	Password  string `json:"password"`
}

func (h *Handler) loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Login(c.Request.Context(), req.PatientID, req.Password)
	switch {
	case errors.Is(err, auth.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing username or password"})
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, auth.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case err != nil:
		h.internalError(c, "login", err)
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user": user, "user_id": user.ID})
	}
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// parseAge accepts a JSON number or a numeric string. Anything else,
// including fractions, is reported as not ok.
func parseAge(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		raw = []byte(strings.TrimSpace(text))
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
