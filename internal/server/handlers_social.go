package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/social"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListFriends(c *gin.Context) {
	friends, err := h.social.Friends(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": newFriendPayloads(friends)})
}

func (h *httpHandler) handleRemoveFriend(c *gin.Context) {
	if err := h.social.RemoveFriend(c.Request.Context(), currentUserID(c), c.Param("user_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListRequests(c *gin.Context) {
	requests, err := h.social.PendingRequests(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": newPendingRequestPayloads(requests)})
}

func (h *httpHandler) handleSendRequest(c *gin.Context) {
	var request friendRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	requestID, err := h.social.SendRequest(c.Request.Context(), currentUserID(c), request.ToUserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idPayload{ID: requestID})
}

func (h *httpHandler) handleAcceptRequest(c *gin.Context) {
	request, ok := h.actionableRequest(c)
	if !ok {
		return
	}
	if err := h.social.AcceptRequest(c.Request.Context(), request.ID, request.FromUserID, request.ToUserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRejectRequest(c *gin.Context) {
	request, ok := h.actionableRequest(c)
	if !ok {
		return
	}
	if err := h.social.RejectRequest(c.Request.Context(), request.ID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// actionableRequest loads the request named in the path and checks that the caller is its
// recipient and that it is still pending.
func (h *httpHandler) actionableRequest(c *gin.Context) (social.FriendRequest, bool) {
	request, err := h.social.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return social.FriendRequest{}, false
	}
	if request.ToUserID != currentUserID(c) {
		h.writeError(c, errNotRecipient)
		return social.FriendRequest{}, false
	}
	actionable, err := h.social.ValidateFriendRequest(c.Request.Context(), request.ID)
	if err != nil {
		h.writeError(c, err)
		return social.FriendRequest{}, false
	}
	if !actionable {
		h.writeError(c, errStaleRequest)
		return social.FriendRequest{}, false
	}
	return request, true
}

func (h *httpHandler) handleListBlocks(c *gin.Context) {
	blocked, err := h.blocks.BlockedSet(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": newBlockPayloads(blocked)})
}

func (h *httpHandler) handleBlock(c *gin.Context) {
	if err := h.blocks.Block(c.Request.Context(), currentUserID(c), c.Param("user_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnblock(c *gin.Context) {
	if err := h.blocks.Unblock(c.Request.Context(), currentUserID(c), c.Param("user_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
