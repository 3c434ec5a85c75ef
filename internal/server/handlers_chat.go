package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListConversations(c *gin.Context) {
	summaries, err := h.chat.ListConversationsFor(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": newSummaryPayloads(summaries, requestLanguage(c))})
}

func (h *httpHandler) handleCreateDirect(c *gin.Context) {
	var request directRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	conversation, err := h.chat.GetOrCreateDirect(c.Request.Context(), currentUserID(c), request.PeerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationPayload(conversation))
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	var request groupRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	conversation, err := h.chat.CreateGroup(c.Request.Context(), currentUserID(c), request.MemberIDs, request.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newConversationPayload(conversation))
}

func (h *httpHandler) handleGetConversation(c *gin.Context) {
	conversation, ok := h.memberConversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newConversationPayload(conversation))
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	conversation, ok := h.memberConversation(c)
	if !ok {
		return
	}
	messages, err := h.chat.Messages(c.Request.Context(), conversation.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": newMessagePayloads(messages, requestLanguage(c))})
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request messageRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	claims := sessionClaims(c)
	sender := chat.Sender{UserID: claims.UserID, Name: claims.UserDisplayName}
	message, err := h.chat.SendMessage(c.Request.Context(), c.Param("id"), sender, request.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessagePayload(message, requestLanguage(c)))
}

// handleAddMember lets only current members of an active group add others. Direct and
// archived conversations fall through so the engine reports them precisely.
func (h *httpHandler) handleAddMember(c *gin.Context) {
	var request memberRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	actorID := currentUserID(c)
	conversation, err := h.chat.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if conversation.Kind == chat.KindGroup && !conversation.Archived && !conversation.HasParticipant(actorID) {
		h.writeError(c, chat.ErrNotMember)
		return
	}
	updated, err := h.chat.AddMember(c.Request.Context(), conversation.ID, request.UserID, actorID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationPayload(updated))
}

func (h *httpHandler) handleLeaveGroup(c *gin.Context) {
	conversation, err := h.chat.LeaveGroup(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newConversationPayload(conversation))
}

// memberConversation loads the conversation in the path, hiding it from non-members.
func (h *httpHandler) memberConversation(c *gin.Context) (chat.Conversation, bool) {
	conversation, err := h.chat.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return chat.Conversation{}, false
	}
	if !conversation.HasParticipant(currentUserID(c)) {
		h.writeError(c, chat.ErrConversationNotFound)
		return chat.Conversation{}, false
	}
	return conversation, true
}
