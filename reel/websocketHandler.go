package reel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"reelserver/auth"
	"reelserver/models"
	"reelserver/provider"
	"reelserver/reel/actions"
	"reelserver/reel/connection"
	"reelserver/reel/database"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// WebSocket接続へのアップグレードを行う関数。1接続 = 1プレイヤー。
func HandleConnections(ctx context.Context, w http.ResponseWriter, r *http.Request, db *gorm.DB, rdb *redis.Client, logger *zap.Logger, registry *connection.Registry, upgrader websocket.Upgrader, prov provider.ContentProvider, llm provider.LLMClient) {
	// トークンの検証（ブラウザからはクエリパラメータで渡される）
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := auth.ParseClaims(tokenString)
	if err != nil {
		logger.Error("Websocket auth failed", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// WebSocket接続へのアップグレードと確立
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}

	client := &models.Client{
		Conn:     conn,
		UserID:   claims.UserID,
		NickName: claims.NickName,
	}

	// セッションIDの検証と復元（再接続時）。復元に失敗しても新規として続行
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		if restored := database.ValidateSessionID(ctx, rdb, sessionID, logger); restored != nil {
			client.UserID = restored.UserID
			client.NickName = restored.NickName
			// 旧セッションの削除（新しいIDを発行し直す）
			database.DeleteSessionID(ctx, rdb, sessionID)
			logger.Info("Session restored", zap.Uint("UserID", client.UserID))
		} else {
			logger.Info("Session restore failed, continuing as fresh connection")
		}
	}

	logger.Info("New client connected", zap.Uint("UserID", client.UserID), zap.String("NickName", client.NickName))

	// 新しいセッションIDの発行と保存
	if err := database.GenerateAndStoreSessionID(ctx, client, rdb, logger); err != nil {
		logger.Error("Failed to generate or store session ID", zap.Error(err))
	}

	// ゲームセッションの検索または作成
	session := registry.ManageSession(ctx, db, logger, client, conn, prov, llm)

	// WebSocketのCloseHandlerを設定。セッション自体はメモリに残し、
	// 再接続時に同じ進行状態へ復帰させる
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Info("WebSocket closed", zap.Int("code", code), zap.String("reason", text))
		session.Client.Mu.Lock()
		if session.Client.Conn == conn {
			session.Client.Conn = nil
		}
		session.Client.Mu.Unlock()
		return nil
	})

	// クライアントごとにメッセージ読み取りゴルーチンを起動。
	// リクエストのctxはハンドラ終了で消えるため、セッション用に別のctxを使う
	go actions.HandleClient(context.Background(), session, session.Client, conn, logger)

	// Ping/Pongを管理するゴルーチンを起動
	go func(c *models.Client) {
		defer func() {
			conn.Close()
			c.Mu.Lock()
			if c.Conn == conn {
				c.Conn = nil // 切断状態にする。セッションは保持
			}
			c.Mu.Unlock()
			logger.Info("Client disconnected", zap.Uint("UserID", c.UserID))
		}()

		// Pongハンドラの設定: Pongメッセージを受信したら読み取りデッドラインを更新
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		// Pingの送信間隔を設定
		pingPeriod := 10 * time.Second
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for range ticker.C {
			c.Mu.Lock()
			if c.Conn != conn {
				// 新しい接続に置き換わった。このゴルーチンは役目を終える
				c.Mu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.Mu.Unlock()
			if err != nil {
				logger.Info("Error sending ping", zap.Error(err))
				return
			}
		}
	}(session.Client)
}
