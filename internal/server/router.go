package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/auth"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/blocks"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/presence"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/social"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionClaimsContextKey = "lingocircle_session_claims"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingProfiles         = errors.New("profile service dependency required")
	errMissingPresence         = errors.New("presence service dependency required")
	errMissingBlocks           = errors.New("block service dependency required")
	errMissingSocial           = errors.New("social service dependency required")
	errMissingChat             = errors.New("chat service dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions SessionValidator
	Profiles *profiles.Service
	Presence *presence.Service
	Blocks   *blocks.Service
	Social   *social.Service
	Chat     *chat.Service
	Logger   *zap.Logger
	// AllowedOrigins lists the browser origins allowed to call the API; empty allows any.
	AllowedOrigins []string
	// HeartbeatInterval spaces keep-alive frames on live streams.
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Blocks == nil {
		return nil, errMissingBlocks
	}
	if deps.Social == nil {
		return nil, errMissingSocial
	}
	if deps.Chat == nil {
		return nil, errMissingChat
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		profiles:  deps.Profiles,
		presence:  deps.Presence,
		blocks:    deps.Blocks,
		social:    deps.Social,
		chat:      deps.Chat,
		logger:    logger,
		origins:   deps.AllowedOrigins,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/session", handler.handleLogin)
	protected.DELETE("/session", handler.handleLogout)
	protected.POST("/presence/heartbeat", handler.handleHeartbeat)
	protected.GET("/users/:id/presence", handler.handleUserPresence)
	protected.GET("/users/search", handler.handleSearchUsers)
	protected.GET("/me", handler.handleGetMe)
	protected.PATCH("/me", handler.handleRenameMe)

	protected.GET("/friends", handler.handleListFriends)
	protected.DELETE("/friends/:user_id", handler.handleRemoveFriend)
	protected.GET("/friends/requests", handler.handleListRequests)
	protected.POST("/friends/requests", handler.handleSendRequest)
	protected.POST("/friends/requests/:id/accept", handler.handleAcceptRequest)
	protected.POST("/friends/requests/:id/reject", handler.handleRejectRequest)

	protected.GET("/blocks", handler.handleListBlocks)
	protected.PUT("/blocks/:user_id", handler.handleBlock)
	protected.DELETE("/blocks/:user_id", handler.handleUnblock)

	protected.GET("/conversations", handler.handleListConversations)
	protected.POST("/conversations/direct", handler.handleCreateDirect)
	protected.POST("/conversations/group", handler.handleCreateGroup)
	protected.GET("/conversations/:id", handler.handleGetConversation)
	protected.GET("/conversations/:id/messages", handler.handleListMessages)
	protected.POST("/conversations/:id/messages", handler.handleSendMessage)
	protected.POST("/conversations/:id/members", handler.handleAddMember)
	protected.POST("/conversations/:id/leave", handler.handleLeaveGroup)

	protected.GET("/ws/:stream", handler.handleWebsocket)
	protected.GET("/streams/:stream", handler.handleEventStream)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions  SessionValidator
	profiles  *profiles.Service
	presence  *presence.Service
	blocks    *blocks.Service
	social    *social.Service
	chat      *chat.Service
	logger    *zap.Logger
	origins   []string
	heartbeat time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Debug("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "sign in to continue"})
		return
	}
	c.Set(sessionClaimsContextKey, claims)
	c.Next()
}

func sessionClaims(c *gin.Context) auth.SessionClaims {
	value, ok := c.Get(sessionClaimsContextKey)
	if !ok {
		return auth.SessionClaims{}
	}
	claims, _ := value.(auth.SessionClaims)
	return claims
}

func currentUserID(c *gin.Context) string {
	return sessionClaims(c).UserID
}

// bindJSON decodes the body into target, writing a 400 on failure.
func (h *httpHandler) bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		h.writeError(c, errInvalidBody)
		return false
	}
	return true
}

func requestLanguage(c *gin.Context) string {
	if language := strings.TrimSpace(c.Query("lang")); language != "" {
		return language
	}
	header := c.GetHeader("Accept-Language")
	if header == "" {
		return chat.LanguageEnglish
	}
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}
