package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dexmail/backend/internal/domain"
)

// JWTClaims 钱包登录签发的 JWT 声明
type JWTClaims struct {
	Wallet string `json:"wallet"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 视为同源请求
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType WebSocket 消息类型
type MessageType string

const (
	MessageTypeNewMail       MessageType = "new_mail"
	MessageTypeMailboxUpdate MessageType = "mailbox_update"
	MessageTypePing          MessageType = "ping"
	MessageTypePong          MessageType = "pong"
	MessageTypeSubscribe     MessageType = "subscribe"
	MessageTypeUnsubscribe   MessageType = "unsubscribe"
	MessageTypeSubscribed    MessageType = "subscribed"
	MessageTypeError         MessageType = "error"
)

// Message WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"` // 订阅的邮箱地址
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 一个 WebSocket 客户端连接
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool // 已订阅的邮箱地址
	mu        sync.RWMutex
	log       *zap.Logger
	// 认证信息：客户端只能订阅自己登录身份的地址
	Wallet string
	Email  string
}

// Hub 管理所有 WebSocket 连接，按邮箱地址分发通知
type Hub struct {
	clients        map[string]*Client
	addresses      map[string]map[string]*Client // address -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *BroadcastMessage
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	jwtSecret      string
}

// BroadcastMessage 按地址投递的广播消息
type BroadcastMessage struct {
	Address string
	Message *Message
}

// NewHub 创建 WebSocket Hub。
func NewHub(allowedOrigins []string, jwtSecret string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		addresses:      make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *BroadcastMessage, 256),
		log:            log,
		allowedOrigins: allowedOrigins,
		jwtSecret:      jwtSecret,
	}
}

// Run 启动 Hub 事件循环。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Info("client registered",
				zap.String("id", client.ID),
				zap.String("email", client.Email))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for address := range client.addresses {
					if clients, exists := h.addresses[address]; exists {
						delete(clients, client.ID)
						if len(clients) == 0 {
							delete(h.addresses, address)
						}
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToAddress(msg.Address, msg.Message)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Preview   string `json:"preview,omitempty"`
	HasCrypto bool   `json:"hasCryptoTransfer"`
	Date      string `json:"date"`
}

// NotifyNewMail 向订阅了该地址的客户端推送新邮件通知。
func (h *Hub) NotifyNewMail(address string, entry *domain.MailboxEntry) {
	data, err := json.Marshal(NewMailData{
		MessageID: entry.ID,
		From:      entry.Email,
		Subject:   entry.Subject,
		Preview:   entry.Preview,
		HasCrypto: entry.HasCrypto,
		Date:      entry.Date,
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}

	h.broadcast <- &BroadcastMessage{
		Address: strings.ToLower(address),
		Message: &Message{
			Type:      MessageTypeNewMail,
			Address:   address,
			Data:      data,
			Timestamp: time.Now(),
		},
	}
}

// MailboxUpdateData 邮箱刷新通知数据
type MailboxUpdateData struct {
	Address     string `json:"address"`
	UnreadCount int    `json:"unreadCount"`
	TotalCount  int    `json:"totalCount"`
	RefreshedAt string `json:"refreshedAt"`
}

// NotifyMailboxUpdate 轮询刷新后推送邮箱计数变化。
func (h *Hub) NotifyMailboxUpdate(address string, unread, total int) {
	data, err := json.Marshal(MailboxUpdateData{
		Address:     address,
		UnreadCount: unread,
		TotalCount:  total,
		RefreshedAt: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error("failed to marshal mailbox update data", zap.Error(err))
		return
	}

	h.broadcast <- &BroadcastMessage{
		Address: strings.ToLower(address),
		Message: &Message{
			Type:      MessageTypeMailboxUpdate,
			Address:   address,
			Data:      data,
			Timestamp: time.Now(),
		},
	}
}

// broadcastToAddress 向订阅特定地址的客户端广播消息
func (h *Hub) broadcastToAddress(address string, msg *Message) {
	h.mu.RLock()
	clients := h.addresses[address]
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			// 客户端阻塞，跳过
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送 ping
func (h *Hub) pingAllClients() {
	msg := &Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.addresses = make(map[string]map[string]*Client)
}

// authenticateClient 从 token 建立客户端身份
func (h *Hub) authenticateClient(c *gin.Context) (*Client, error) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
	}

	if token == "" {
		return nil, errors.New("missing authentication token")
	}

	wallet, email, err := h.validateJWT(token)
	if err != nil {
		return nil, errors.New("invalid authentication token")
	}

	return &Client{
		ID:        generateClientID(),
		Wallet:    wallet,
		Email:     email,
		addresses: make(map[string]bool),
		log:       h.log,
	}, nil
}

// validateJWT 验证钱包登录 JWT。
func (h *Hub) validateJWT(tokenString string) (wallet, email string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil {
		return "", "", err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims.Wallet, claims.Email, nil
	}
	return "", "", errors.New("invalid token claims")
}

// HandleWebSocket 处理 WebSocket 连接升级。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		client, err := hub.authenticateClient(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")))
			return
		}

		client.conn = conn
		client.hub = hub
		client.send = make(chan []byte, 256)

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.Address)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.Address)
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
	}
}

// subscribe 订阅邮箱地址的通知。只允许订阅登录身份自己的地址。
func (c *Client) subscribe(address string) {
	if address == "" {
		c.sendError("address is required")
		return
	}
	address = strings.ToLower(address)

	if address != strings.ToLower(c.Email) {
		c.log.Warn("subscription denied: not own address",
			zap.String("clientID", c.ID),
			zap.String("address", address))
		c.sendError(fmt.Sprintf("no permission to subscribe: %s", address))
		return
	}

	c.mu.Lock()
	c.addresses[address] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.addresses[address] == nil {
		c.hub.addresses[address] = make(map[string]*Client)
	}
	c.hub.addresses[address][c.ID] = c
	c.hub.mu.Unlock()

	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Address:   address,
		Timestamp: time.Now(),
	})
}

// unsubscribe 取消订阅
func (c *Client) unsubscribe(address string) {
	address = strings.ToLower(address)

	c.mu.Lock()
	delete(c.addresses, address)
	c.mu.Unlock()

	c.hub.mu.Lock()
	if clients, exists := c.hub.addresses[address]; exists {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(c.hub.addresses, address)
		}
	}
	c.hub.mu.Unlock()
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

// generateClientID 生成客户端ID
func generateClientID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return time.Now().Format("20060102150405") + "-" + hex.EncodeToString(buf)
}
