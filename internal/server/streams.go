package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/blocks"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/social"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamConversations = "conversations"
	streamMessages      = "messages"
	streamFriends       = "friends"
	streamRequests      = "requests"
	streamBlocks        = "blocks"

	eventSnapshot  = "snapshot"
	eventHeartbeat = "heartbeat"

	defaultHeartbeatInterval = 25 * time.Second
)

// streamFrame carries one full snapshot of a live stream.
type streamFrame struct {
	Type   string        `json:"type"`
	Stream string        `json:"stream"`
	Data   interface{}   `json:"data,omitempty"`
	Error  *errorPayload `json:"error,omitempty"`
}

// openStream starts the live subscription named by the path. The returned channel closes
// when ctx ends, stop runs, or the viewer loses access to the watched conversation.
func (h *httpHandler) openStream(ctx context.Context, c *gin.Context) (<-chan streamFrame, func(), error) {
	userID := currentUserID(c)
	language := requestLanguage(c)
	name := c.Param("stream")
	switch name {
	case streamConversations:
		snapshots, stop, err := h.chat.WatchConversations(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		return frames(ctx, name, snapshots, func(value []chat.ConversationSummary) interface{} {
			return newSummaryPayloads(value, language)
		}), stop, nil
	case streamMessages:
		conversation, err := h.chat.GetConversation(ctx, c.Query("conversation_id"))
		if err != nil {
			return nil, nil, err
		}
		if !conversation.HasParticipant(userID) {
			return nil, nil, chat.ErrConversationNotFound
		}
		snapshots, stop, err := h.chat.WatchMessages(ctx, conversation.ID, userID)
		if err != nil {
			return nil, nil, err
		}
		return frames(ctx, name, snapshots, func(value []chat.Message) interface{} {
			return newMessagePayloads(value, language)
		}), stop, nil
	case streamFriends:
		snapshots, stop, err := h.social.WatchFriends(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		return frames(ctx, name, snapshots, func(value []social.Friend) interface{} {
			return newFriendPayloads(value)
		}), stop, nil
	case streamRequests:
		snapshots, stop, err := h.social.WatchPendingRequests(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		return frames(ctx, name, snapshots, func(value []social.PendingRequest) interface{} {
			return newPendingRequestPayloads(value)
		}), stop, nil
	case streamBlocks:
		snapshots, stop, err := h.blocks.WatchBlockedSet(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		return frames(ctx, name, snapshots, func(value []blocks.Block) interface{} {
			return newBlockPayloads(value)
		}), stop, nil
	default:
		return nil, nil, errUnknownStream
	}
}

func frames[T any](ctx context.Context, name string, snapshots <-chan realtime.Snapshot[T], convert func(T) interface{}) <-chan streamFrame {
	out := make(chan streamFrame)
	go func() {
		defer close(out)
		for snapshot := range snapshots {
			frame := streamFrame{Type: eventSnapshot, Stream: name}
			if snapshot.Err != nil {
				_, payload := errorBody(snapshot.Err)
				frame.Error = &payload
			} else {
				frame.Data = convert(snapshot.Value)
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// handleEventStream serves a live stream as server-sent events.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, stop, err := h.openStream(ctx, c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case frame, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(eventSnapshot, frame)
			return true
		case <-ticker.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		}
	})
}

// handleWebsocket serves a live stream over a websocket. Client frames are ignored; the
// read loop only detects disconnects and answers pings.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, stop, err := h.openStream(ctx, c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer stop()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	userID := currentUserID(c)
	if err := h.presence.Touch(ctx, userID); err != nil {
		h.logger.Warn("presence touch failed", zap.String("user_id", userID), zap.Error(err))
	}

	connection := newConnection(userID, ws, h.heartbeat)
	connection.Start()
	defer connection.Close(websocket.CloseNormalClosure, "stream ended")
	go func() {
		connection.readLoop()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-stream:
			if !ok {
				connection.Finish(websocket.CloseNormalClosure, "stream ended")
				return
			}
			if err := connection.SendJSON(frame); err != nil {
				h.logger.Debug("websocket send failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

func (h *httpHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
