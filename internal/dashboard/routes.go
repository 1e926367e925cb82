package dashboard

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zulandar/postavshik/internal/auth"
	"github.com/zulandar/postavshik/internal/chat"
	"github.com/zulandar/postavshik/internal/directory"
	"github.com/zulandar/postavshik/internal/models"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	router.GET("/", s.handleIndex)

	api := router.Group("/api")
	api.GET("/session", s.handleSession)
	api.POST("/login", s.handleLogin)
	api.POST("/logout", s.handleLogout)

	api.GET("/suppliers", s.handleSuppliers)
	api.POST("/suppliers/:id/verify", s.handleVerify)
	api.GET("/suppliers/:id/contacts", s.handleContacts)

	api.GET("/orders", s.handleOrders)
	api.POST("/orders", s.handleCreateOrder)
	api.GET("/orders/:id/offers", s.handleOffers)
	api.POST("/orders/:id/offers", s.handleCreateOffer)

	api.GET("/chat", s.handleChatState)
	api.POST("/chat/send", s.handleChatSend)
	api.POST("/chat/:orderID", s.handleChatSelect)
	api.DELETE("/chat", s.handleChatClose)
	api.GET("/chat/events", s.handleChatEvents)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"authenticated": s.auth.Authenticated(),
	})
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleSession(c *gin.Context) {
	resp := gin.H{"authenticated": s.auth.Authenticated()}
	if tok := s.auth.Token(); tok != "" {
		info := auth.Inspect(tok)
		if !info.Opaque {
			resp["subject"] = info.Subject
			resp["user_id"] = info.UserID
			if !info.ExpiresAt.IsZero() {
				resp["expires_at"] = info.ExpiresAt
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	res, err := s.dir.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.auth.Set(c.Request.Context(), res.Access); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

func (s *Server) handleLogout(c *gin.Context) {
	// A chat opened with the old credential must not outlive it.
	s.binder.Close()
	if err := s.auth.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

// ---------------------------------------------------------------------------
// Suppliers
// ---------------------------------------------------------------------------

type supplierView struct {
	models.Supplier
	Badge        string `json:"badge"`
	CategoryText string `json:"category_text"`
}

func (s *Server) handleSuppliers(c *gin.Context) {
	filters := models.SupplierFilters{
		Search:   c.Query("search"),
		Country:  c.Query("country"),
		Category: c.Query("category"),
	}
	if p := c.Query("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
			return
		}
		filters.Page = n
	}

	page, err := s.dir.ListSuppliers(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]supplierView, 0, len(page.Results))
	for _, sup := range page.Results {
		views = append(views, supplierView{Supplier: sup, Badge: sup.Badge(), CategoryText: sup.CategoryName()})
	}
	c.JSON(http.StatusOK, models.Page[supplierView]{
		Count:    page.Count,
		Next:     page.Next,
		Previous: page.Previous,
		Results:  views,
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	task, err := s.dir.VerifySupplier(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) handleContacts(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	contacts, err := s.dir.SupplierContacts(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

type orderView struct {
	models.Order
	Budget string `json:"budget"`
}

func (s *Server) handleOrders(c *gin.Context) {
	var (
		page models.Page[models.Order]
		err  error
	)
	if c.Query("mine") != "" {
		page, err = s.dir.MyOrders(c.Request.Context())
	} else {
		page, err = s.dir.ListOrders(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]orderView, 0, len(page.Results))
	for _, o := range page.Results {
		views = append(views, orderView{Order: o, Budget: models.FormatBudget(o.BudgetMin, o.BudgetMax)})
	}
	c.JSON(http.StatusOK, models.Page[orderView]{
		Count:    page.Count,
		Next:     page.Next,
		Previous: page.Previous,
		Results:  views,
	})
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var in models.OrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order: " + err.Error()})
		return
	}
	order, err := s.dir.CreateOrder(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleOffers(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, err := s.dir.OrderOffers(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleCreateOffer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in models.OfferInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer: " + err.Error()})
		return
	}
	offer, err := s.dir.CreateOffer(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

type chatView struct {
	Active     bool           `json:"active"`
	OrderID    int            `json:"order_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	State      chat.State     `json:"state,omitempty"`
	Error      string         `json:"error,omitempty"`
	Dropped    int            `json:"dropped,omitempty"`
	Transcript []chat.Message `json:"transcript"`
}

func viewOf(sess *chat.Session) chatView {
	if sess == nil {
		return chatView{Transcript: []chat.Message{}}
	}
	v := chatView{
		Active:     true,
		OrderID:    sess.OrderID(),
		SessionID:  sess.ID(),
		State:      sess.State(),
		Dropped:    sess.Dropped(),
		Transcript: sess.Transcript(),
	}
	if err := sess.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func (s *Server) handleChatState(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(s.binder.Current()))
}

func (s *Server) handleChatSelect(c *gin.Context) {
	id, ok := paramID(c, "orderID")
	if !ok {
		return
	}
	sess, err := s.binder.Select(s.ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Debug().Int("order_id", id).Str("session_id", sess.ID()).Msg("dashboard: chat selected")
	c.JSON(http.StatusOK, viewOf(sess))
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChatSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if err := s.binder.Send(req.Message); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChatClose(c *gin.Context) {
	s.binder.Close()
	c.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

// writeError maps a collaborator failure to an HTTP response.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var apiErr *directory.APIError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, directory.ErrAuthFailed), errors.Is(err, auth.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, chat.ErrNotOpen):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrSendQueueFull):
		status = http.StatusTooManyRequests
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = apiErr.StatusCode
		}
	}
	if status >= 500 {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("dashboard: request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
