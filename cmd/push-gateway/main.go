// cmd/push-gateway/main.go
package main

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/mq"
)

const serviceName = "push-gateway"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 网关前面有接入层做来源控制，这里放开跨域
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub 维护所有活跃的 WebSocket 连接，按 UserID 索引。
type Hub struct {
	clients    map[int64]*Client
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[int64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			h.lock.Unlock()
			logger.Logger().Info().Int64("user_id", client.userID).Msg("client connected")
		case client := <-h.unregister:
			h.lock.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.lock.Unlock()
			logger.Logger().Info().Int64("user_id", client.userID).Msg("client disconnected")
		}
	}
}

// push 把一条消息投给指定用户的连接（不在线则丢弃）。
func (h *Hub) push(userID int64, message []byte) {
	h.lock.RLock()
	client, ok := h.clients[userID]
	h.lock.RUnlock()
	if !ok {
		return
	}
	select {
	case client.send <- message:
	default:
		// 发送缓冲打满说明客户端已经读不动了，踢掉重连
		h.unregister <- client
	}
}

// Client 代表一条 WebSocket 连接。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger().Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 64), userID: userID}
	hub.register <- client
	go client.writePump()
	go client.readPump()
}

// consumeNotifications 消费通知 topic 并把消息推给在线用户。
// 每个网关节点用独立的消费组，消息对所有节点广播，
// 由持有该用户连接的节点完成最终推送。
func consumeNotifications(ctx context.Context, hub *Hub, cfg *bootstrap.Config) {
	groupID := serviceName + "-" + uuid.New().String()[:8]
	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic, groupID)
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Logger().Error().Err(err).Msg("could not read notification")
			continue
		}
		userID, err := strconv.ParseInt(string(msg.Key), 10, 64)
		if err != nil {
			continue
		}
		hub.push(userID, msg.Value)
	}
}

func main() {
	var hub *Hub

	consumeCtx, stopConsume := context.WithCancel(context.Background())

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8084,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			hub = newHub()
			go hub.run()
			go consumeNotifications(consumeCtx, hub, bootstrap.GetCurrentConfig())
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
		OnShutdown: func(ctx context.Context) {
			stopConsume()
		},
	})
}
