// Package dashboard serves a local web front end over the directory client
// and a single chat view.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zulandar/postavshik/internal/auth"
	"github.com/zulandar/postavshik/internal/chat"
	"github.com/zulandar/postavshik/internal/directory"
	"github.com/zulandar/postavshik/internal/models"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed assets
var assetsFS embed.FS

// DefaultPort is used when no port is configured.
const DefaultPort = 8090

// Directory is the subset of *directory.Client the dashboard proxies.
type Directory interface {
	Login(ctx context.Context, email, password string) (directory.LoginResult, error)
	ListSuppliers(ctx context.Context, filters models.SupplierFilters) (models.Page[models.Supplier], error)
	VerifySupplier(ctx context.Context, supplierID int) (models.VerificationTask, error)
	SupplierContacts(ctx context.Context, supplierID int) (models.Contacts, error)
	ListOrders(ctx context.Context) (models.Page[models.Order], error)
	MyOrders(ctx context.Context) (models.Page[models.Order], error)
	CreateOrder(ctx context.Context, in models.OrderInput) (models.Order, error)
	OrderOffers(ctx context.Context, orderID int) (models.Page[models.Offer], error)
	CreateOffer(ctx context.Context, orderID int, in models.OfferInput) (models.Offer, error)
}

// Opts holds configuration for the dashboard server.
type Opts struct {
	Directory Directory
	Auth      *auth.Context
	// Chat configures the binder; Credentials and OnEvent are set by the server.
	Chat chat.BinderOpts
}

// Server is the dashboard. It owns exactly one chat binder, so the page it
// renders has at most one live chat session.
type Server struct {
	dir    Directory
	auth   *auth.Context
	binder *chat.Binder
	hub    *hub
	tmpl   *template.Template

	// ctx bounds chat dials; request contexts end too early.
	ctx context.Context
}

// New builds a Server. ctx is the server lifetime.
func New(ctx context.Context, opts Opts) (*Server, error) {
	if opts.Directory == nil {
		return nil, fmt.Errorf("dashboard: directory is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("dashboard: auth is required")
	}
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	h := newHub()
	bopts := opts.Chat
	bopts.Credentials = opts.Auth
	bopts.OnEvent = h.publish
	binder, err := chat.NewBinder(bopts)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	return &Server{
		dir:    opts.Directory,
		auth:   opts.Auth,
		binder: binder,
		hub:    h,
		tmpl:   tmpl,
		ctx:    ctx,
	}, nil
}

// Handler returns the gin router serving every dashboard route.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(s.tmpl)
	s.registerRoutes(router)
	return router
}

// Close tears down the chat session.
func (s *Server) Close() error {
	return s.binder.Close()
}

// StartOpts holds configuration for Start.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	gin.SetMode(gin.ReleaseMode)
	s, err := New(ctx, opts.Opts)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// SSE streams hold connections open; close them first.
		s.hub.shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}
	log.Info().Int("port", opts.Port).Msg("dashboard: listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
