// Package mockapi is an in-process stand-in for the auth backend. It serves
// POST /auth/login, GET /auth/me, GET /products and HEAD /test over a fixed
// user table, signs HS256 tokens, and can simulate an outage.
package mockapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/applock/internal/rate"
	"github.com/MrEthical07/applock/jwt"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// User is a row of the user table. Password never leaves the server.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
}

// DefaultUsers mirrors the demo accounts of the public backend.
func DefaultUsers() []User {
	return []User{
		{ID: 1, Username: "emilys", Password: "emilyspass", Email: "emily.johnson@x.dummyjson.com", FirstName: "Emily", LastName: "Johnson", Gender: "female", Image: "https://dummyjson.com/icon/emilys/128"},
		{ID: 2, Username: "michaelw", Password: "michaelwpass", Email: "michael.williams@x.dummyjson.com", FirstName: "Michael", LastName: "Williams", Gender: "male", Image: "https://dummyjson.com/icon/michaelw/128"},
		{ID: 3, Username: "sophiab", Password: "sophiabpass", Email: "sophia.brown@x.dummyjson.com", FirstName: "Sophia", LastName: "Brown", Gender: "female", Image: "https://dummyjson.com/icon/sophiab/128"},
	}
}

// Product is a catalog row served by GET /products.
type Product struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

func defaultProducts() []Product {
	return []Product{
		{ID: 1, Title: "Essence Mascara Lash Princess", Category: "beauty", Price: 9.99},
		{ID: 2, Title: "Eyeshadow Palette with Mirror", Category: "beauty", Price: 19.99},
		{ID: 6, Title: "Calvin Klein CK One", Category: "fragrances", Price: 49.99},
		{ID: 11, Title: "Annibale Colombo Bed", Category: "furniture", Price: 1899.99},
	}
}

// Config configures a Server.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	Users    []User
	// Limiter throttles failed logins per username when set.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// Server holds the mock backend state.
type Server struct {
	tokens  *jwt.Manager
	limiter *rate.Limiter
	log     *zap.Logger

	mu    sync.RWMutex
	users map[string]User
	byID  map[int64]User

	down     atomic.Bool
	requests atomic.Int64
}

// New builds a Server. A nil Users slice loads DefaultUsers.
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("mockapi: secret required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	if cfg.Users == nil {
		cfg.Users = DefaultUsers()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.TokenTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    cfg.Secret,
		Issuer:        "applock-mockapi",
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		tokens:  tokens,
		limiter: cfg.Limiter,
		log:     log,
		users:   make(map[string]User, len(cfg.Users)),
		byID:    make(map[int64]User, len(cfg.Users)),
	}
	for _, u := range cfg.Users {
		s.users[u.Username] = u
		s.byID[u.ID] = u
	}
	return s, nil
}

// SetDown toggles the simulated outage. While down every route answers 503.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Requests counts handled requests, outages included.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Router returns the gin engine serving the API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.outage())

	r.POST("/auth/login", s.handleLogin)
	r.GET("/auth/me", s.handleMe)
	r.GET("/products", s.handleProducts)
	r.HEAD("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		s.requests.Add(1)
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetHeader("X-Request-ID")),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) outage() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.down.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "Service unavailable"})
			return
		}
		c.Next()
	}
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if body.Username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username and password required"})
		return
	}

	ctx := c.Request.Context()
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, body.Username); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				c.JSON(http.StatusTooManyRequests, gin.H{"message": "Too many attempts"})
				return
			}
			s.log.Warn("login limiter unavailable", zap.Error(err))
		}
	}

	s.mu.RLock()
	u, ok := s.users[body.Username]
	s.mu.RUnlock()
	if !ok || u.Password != body.Password {
		if s.limiter != nil {
			if _, err := s.limiter.Fail(ctx, body.Username); err != nil {
				s.log.Warn("recording failed login", zap.Error(err))
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid credentials"})
		return
	}
	if s.limiter != nil {
		_ = s.limiter.Reset(ctx, body.Username)
	}

	token, err := s.tokens.Issue(u.ID, u.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           u.ID,
		"username":     u.Username,
		"email":        u.Email,
		"firstName":    u.FirstName,
		"lastName":     u.LastName,
		"gender":       u.Gender,
		"image":        u.Image,
		"accessToken":  token,
		"refreshToken": token,
	})
}

func (s *Server) handleMe(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Access Token is required"})
		return
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid/expired Token!"})
		return
	}

	s.mu.RLock()
	u, ok := s.byID[claims.UserID]
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "User no longer exists"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) handleProducts(c *gin.Context) {
	products := defaultProducts()
	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"total":    len(products),
		"skip":     0,
		"limit":    len(products),
	})
}

// RemoveUser deletes a user so existing tokens stop resolving.
func (s *Server) RemoveUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		delete(s.users, username)
		delete(s.byID, u.ID)
	}
}
