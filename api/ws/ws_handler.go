package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/storystack/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"storystack-v1"},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)

	h.Hub.OpenCh <- client

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type channelMessage struct {
	Channel string `json:"channel"`
}

type beginDragMessage struct {
	StackId    string  `json:"stackId"`
	EntityId   string  `json:"entityId"`
	Kind       string  `json:"kind"`
	OriginX    float64 `json:"originX"`
	OriginY    float64 `json:"originY"`
	ContainerW float64 `json:"containerW"`
	ContainerH float64 `json:"containerH"`
}

type dragMoveMessage struct {
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
}

type responseMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "subscribe":
		var chanMsg channelMessage
		if err := json.Unmarshal(msg.Data, &chanMsg); err != nil {
			log.Printf("Invalid subscribe data: %v", err)
			return
		}
		resp = h.handleSubscribe(client, chanMsg)

	case "unsubscribe":
		var chanMsg channelMessage
		if err := json.Unmarshal(msg.Data, &chanMsg); err != nil {
			log.Printf("Invalid unsubscribe data: %v", err)
			return
		}
		resp = h.handleUnsubscribe(client, chanMsg)

	case "begin_drag":
		var beginMsg beginDragMessage
		if err := json.Unmarshal(msg.Data, &beginMsg); err != nil {
			log.Printf("Invalid begin_drag data: %v", err)
			return
		}
		resp = h.handleBeginDrag(client, beginMsg)

	case "drag_move":
		var moveMsg dragMoveMessage
		if err := json.Unmarshal(msg.Data, &moveMsg); err != nil {
			log.Printf("Invalid drag_move data: %v", err)
			return
		}
		resp = h.handleDragMove(client, moveMsg)

	case "end_drag":
		var moveMsg dragMoveMessage
		if err := json.Unmarshal(msg.Data, &moveMsg); err != nil {
			log.Printf("Invalid end_drag data: %v", err)
			return
		}
		resp = h.handleEndDrag(client, moveMsg)

	case "cancel_drag":
		client.drag.End()
		client.dragStackId = ""
		resp = responseMessage{Type: "cancel_drag_response", Data: map[string]any{"success": true}}

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Send <- respBytes
	}
}

func (h *Handler) handleSubscribe(client *Client, chanMsg channelMessage) responseMessage {
	resp := responseMessage{
		Type: "subscribe_response",
	}

	if err := service.ValidateChannelKey(chanMsg.Channel); err != nil {
		log.Printf("Subscribe channel validation failed: %v", err)
		resp.Data = map[string]any{"success": false, "channel": chanMsg.Channel}
		return resp
	}

	h.Hub.SubscribeCh <- subscription{client: client, channelKey: chanMsg.Channel}
	resp.Data = map[string]any{"success": true, "channel": chanMsg.Channel}

	return resp
}

func (h *Handler) handleUnsubscribe(client *Client, chanMsg channelMessage) responseMessage {
	resp := responseMessage{
		Type: "unsubscribe_response",
	}

	if err := service.ValidateChannelKey(chanMsg.Channel); err != nil {
		log.Printf("Unsubscribe channel validation failed: %v", err)
		resp.Data = map[string]any{"success": false, "channel": chanMsg.Channel}
		return resp
	}

	h.Hub.UnsubscribeCh <- subscription{client: client, channelKey: chanMsg.Channel}
	resp.Data = map[string]any{"success": true, "channel": chanMsg.Channel}

	return resp
}

func (h *Handler) handleBeginDrag(client *Client, beginMsg beginDragMessage) responseMessage {
	resp := responseMessage{
		Type: "begin_drag_response",
	}

	err := client.drag.Begin(
		beginMsg.EntityId,
		service.DragKind(beginMsg.Kind),
		beginMsg.OriginX,
		beginMsg.OriginY,
		beginMsg.ContainerW,
		beginMsg.ContainerH,
	)
	if err != nil {
		log.Printf("Begin drag failed for user %s: %v", client.user.Id, err)
		resp.Data = map[string]any{"success": false, "error": err.Error(), "entityId": beginMsg.EntityId}
		return resp
	}

	client.dragStackId = beginMsg.StackId
	resp.Data = map[string]any{"success": true, "entityId": beginMsg.EntityId}
	return resp
}

// handleDragMove converts the cumulative pixel delta into a clamped
// percentage position. No draft write happens here; the position is
// echoed back so the client can render the ghost.
func (h *Handler) handleDragMove(client *Client, moveMsg dragMoveMessage) responseMessage {
	resp := responseMessage{
		Type: "drag_position",
	}

	x, y, err := client.drag.Move(moveMsg.DeltaX, moveMsg.DeltaY)
	if err != nil {
		resp.Data = map[string]any{"success": false, "error": err.Error()}
		return resp
	}

	resp.Data = map[string]any{"success": true, "x": x, "y": y}
	return resp
}

// handleEndDrag computes the final position from the last delta and
// commits it to the draft. This is the single write of the whole drag.
func (h *Handler) handleEndDrag(client *Client, moveMsg dragMoveMessage) responseMessage {
	resp := responseMessage{
		Type: "end_drag_response",
	}

	x, y, err := client.drag.Move(moveMsg.DeltaX, moveMsg.DeltaY)
	if err != nil {
		resp.Data = map[string]any{"success": false, "error": err.Error()}
		return resp
	}

	session, ok := client.drag.End()
	if !ok {
		resp.Data = map[string]any{"success": false, "error": "no active drag"}
		return resp
	}

	stackId := client.dragStackId
	client.dragStackId = ""

	if err := h.Service.CommitDragPosition(context.Background(), client.user, stackId, session.Kind, session.EntityId, x, y); err != nil {
		log.Printf("Commit drag position failed: %v", err)
		resp.Data = map[string]any{"success": false, "error": err.Error(), "entityId": session.EntityId}
		return resp
	}

	resp.Data = map[string]any{"success": true, "entityId": session.EntityId, "x": x, "y": y}
	return resp
}
