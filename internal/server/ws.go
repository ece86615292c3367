package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"data-intelligence/internal/command"
	"data-intelligence/internal/registry"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// socketHandle 解析 ?conn=，失败时在升级前返回错误
func (a *App) socketHandle(w http.ResponseWriter, r *http.Request) (registry.Handle, bool) {
	h, err := registry.ParseHandle(r.URL.Query().Get("conn"))
	if err == nil {
		_, err = a.svc.Session(h)
	}
	if err != nil {
		a.fail(w, r, err)
		return 0, false
	}
	return h, true
}

// handleMetricsSocket 按固定间隔推送实时指标，直到客户端断开或连接关闭
func (a *App) handleMetricsSocket(w http.ResponseWriter, r *http.Request) {
	h, ok := a.socketHandle(w, r)
	if !ok {
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("WebSocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drain(conn, cancel)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		rep, err := a.svc.GetMetrics(ctx, h)
		if err != nil {
			a.logger.Infow("指标推送结束", "handle", h.String(), "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(writeWait))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(rep); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain 读取并丢弃客户端消息，断开时取消推送
func drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// handleCommandSocket 每收到一条指令返回一条结果
func (a *App) handleCommandSocket(w http.ResponseWriter, r *http.Request) {
	h, ok := a.socketHandle(w, r)
	if !ok {
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("WebSocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Warnw("指令通道异常关闭", "handle", h.String(), "error", err)
			}
			return
		}
		var res command.Result
		var cmd command.Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			res = command.Result{Error: "无法解析指令: " + err.Error(), Timestamp: time.Now()}
		} else {
			res = a.dispatcher.Dispatch(r.Context(), h, cmd)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(res); err != nil {
			return
		}
	}
}
