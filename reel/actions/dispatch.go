package actions

import (
	"context"
	"encoding/json"
	"time"

	"reelserver/models"
	"reelserver/reel/connection"
	"reelserver/reel/notify"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleClient はクライアントごとのメッセージ読み取りループ。受信した
// メッセージを"type"で振り分けてコントローラーの操作に変換します。
// 再接続でclient.Connが差し替わっても古いループが新しい接続を読まないよう、
// 自分のconnだけを読みます。
func HandleClient(ctx context.Context, session *connection.Session, client *models.Client, conn *websocket.Conn, logger *zap.Logger) {
	defer func() {
		conn.Close()
		logger.Info("Client read loop ended", zap.Uint("UserID", client.UserID))
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Info("Websocket read error", zap.Uint("UserID", client.UserID), zap.Error(err))
			return
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(payload, &msg); err != nil {
			sendErrorMessage(client, "Invalid message format", logger)
			continue
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "start":
			session.Controller.StartRound(ctx)
		case "guess":
			value, ok := msg["value"].(string)
			if !ok {
				sendErrorMessage(client, "Invalid guess value", logger)
				continue
			}
			session.Controller.SubmitGuess(value)
		case "style":
			style, ok := msg["style"].(string)
			if !ok {
				sendErrorMessage(client, "Invalid style value", logger)
				continue
			}
			session.Controller.SetStyle(style)
		case "reset":
			session.Controller.ResetGame(ctx)
		case "chat":
			handleChatMessage(ctx, session, client, msg, logger)
		default:
			sendErrorMessage(client, "Unknown message type", logger)
			logger.Error("Unknown message type", zap.Any("msg", msg))
		}
	}
}

// チャットメッセージを処理する関数。プレイヤーの発言はコンパニオンに
// 転送され、応答がchatMessageとして返ります。
func handleChatMessage(ctx context.Context, session *connection.Session, client *models.Client, msg map[string]interface{}, logger *zap.Logger) {
	chatMessage, ok := msg["message"].(string)
	if !ok || chatMessage == "" {
		sendErrorMessage(client, "Invalid chat message", logger)
		return
	}

	logger.Info("Received chat message",
		zap.Uint("from", client.UserID),
		zap.String("timestamp", time.Now().Format(time.RFC3339)),
	)

	session.Sink.Notify(ctx, notify.Notification{ForAI: chatMessage})
}

func sendErrorMessage(client *models.Client, message string, logger *zap.Logger) {
	notify.SendJSON(client, map[string]interface{}{
		"type":    "error",
		"message": message,
	}, logger)
}
