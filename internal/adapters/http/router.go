package http

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/adapters/identity"
	"github.com/covenantmedia/pulpit/internal/adapters/signal"
	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/app/bridge"
	"github.com/covenantmedia/pulpit/internal/config"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
	"github.com/covenantmedia/pulpit/internal/metrics"
)

type LoginRequest struct {
	Subject string `json:"subject"`
	Name    string `json:"name,omitempty"`
}

type LoginResponse struct {
	Token     string   `json:"token"`
	ExpiresIn int64    `json:"expires_in"`
	Personas  []string `json:"personas"`
}

// ClientTokenMiddleware tags each browser with a stable anonymous id so
// websocket opens can be correlated with page visits in the logs, login
// or not.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// MetricsMiddleware records every routed request; unmatched paths share
// one label so the cardinality stays bounded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func SetupRouter(cfg *config.Config, reg *app.Registry, br *bridge.Bridge, verifier *identity.Verifier, signalCtl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(MetricsMiddleware())

	store := cookie.NewStore([]byte(cfg.Auth.Secret))
	r.Use(sessions.Sessions("PulpitSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": reg.Len(),
			"bridge": gin.H{
				"queued":    br.QueueDepth(),
				"in_flight": br.InFlight(),
			},
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	api.POST("/login", func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid body"})
			return
		}
		p, err := domain.NewPrincipal(req.Subject, req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := verifier.Issue(p.Subject, p.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		sess := sessions.Default(c)
		sess.Set("subject", p.Subject)
		_ = sess.Save()
		log.Info().Str("module", "adapters.http").Str("subject", p.Subject).Msg("issued token")
		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			ExpiresIn: int64(cfg.Auth.TokenTTL.Seconds()),
			Personas:  domain.PersonaNames(),
		})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws signal endpoint hit")
		signalCtl.HandleSignal(c)
	})

	api.GET("/sessions", func(c *gin.Context) {
		infos := reg.Snapshots()
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		})
		c.JSON(http.StatusOK, gin.H{"sessions": infos, "count": len(infos)})
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		info, err := reg.Snapshot(domain.SessionID(c.Param("id")))
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	return r
}
