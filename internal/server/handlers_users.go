package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleLogin is the login event: it seeds the profile from the session and marks the
// user online.
func (h *httpHandler) handleLogin(c *gin.Context) {
	claims := sessionClaims(c)
	profile, err := h.profiles.EnsureProfile(c.Request.Context(), claims.Identity())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.presence.SetOnline(c.Request.Context(), claims.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfilePayload(profile))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.presence.SetOffline(c.Request.Context(), currentUserID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	if err := h.presence.Touch(c.Request.Context(), currentUserID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUserPresence(c *gin.Context) {
	status, err := h.presence.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPresencePayload(status))
}

func (h *httpHandler) handleSearchUsers(c *gin.Context) {
	matches, err := h.social.Search(c.Request.Context(), c.Query("email"), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": newProfilePayloads(matches)})
}

func (h *httpHandler) handleGetMe(c *gin.Context) {
	profile, found, err := h.profiles.GetProfile(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		h.writeError(c, errProfileNotFound)
		return
	}
	c.JSON(http.StatusOK, newProfilePayload(profile))
}

func (h *httpHandler) handleRenameMe(c *gin.Context) {
	var request renameRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	profile, err := h.profiles.Rename(c.Request.Context(), currentUserID(c), request.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfilePayload(profile))
}
