package notify

import (
	"context"
	"encoding/json"
	"time"

	"reelserver/models"
	"reelserver/reel/chat"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Notification はゲームイベント1件。ForUserは即時にシステム行として表示、
// ForAIはチャットコンパニオンに転送され、応答がチャット行として届きます。
type Notification struct {
	ForUser string
	ForAI   string
}

// Sink はコアから見た通知チャネルの抽象。すべてベストエフォートで、
// ラウンド進行の正しさには関与しません。
type Sink interface {
	Notify(ctx context.Context, n Notification)
	SendContext(ctx context.Context, text string)
	ResetHistory(ctx context.Context)
}

// notifyTask はWsSinkのワーカーキューに積まれる1件。
type notifyTask struct {
	notification *Notification
	contextText  string
	reset        bool
}

// WsSink はWebsocket+コンパニオン越しの通知実装。1本のワーカーゴルーチンが
// キューを順番に処理するため、発行順序（例：レベルアップ→解説）が保たれます。
type WsSink struct {
	client    *models.Client
	companion *chat.Companion
	logger    *zap.Logger
	queue     chan notifyTask
}

func NewWsSink(client *models.Client, companion *chat.Companion, logger *zap.Logger) *WsSink {
	s := &WsSink{
		client:    client,
		companion: companion,
		logger:    logger,
		queue:     make(chan notifyTask, 64),
	}
	go s.worker()
	return s
}

func (s *WsSink) Notify(ctx context.Context, n Notification) {
	s.enqueue(notifyTask{notification: &n})
}

func (s *WsSink) SendContext(ctx context.Context, text string) {
	s.enqueue(notifyTask{contextText: text})
}

func (s *WsSink) ResetHistory(ctx context.Context) {
	s.enqueue(notifyTask{reset: true})
}

// キューが詰まっている場合は黙って破棄（通知は正しさの経路ではない）
func (s *WsSink) enqueue(task notifyTask) {
	select {
	case s.queue <- task:
	default:
		s.logger.Warn("Notification queue full, dropping task")
	}
}

func (s *WsSink) worker() {
	for task := range s.queue {
		switch {
		case task.reset:
			s.companion.Reset()
		case task.contextText != "":
			s.companion.AddContext(task.contextText)
		case task.notification != nil:
			s.dispatch(*task.notification)
		}
	}
}

func (s *WsSink) dispatch(n Notification) {
	if n.ForUser != "" {
		SendJSON(s.client, map[string]interface{}{
			"type":      "systemMessage",
			"message":   n.ForUser,
			"timestamp": time.Now().Format(time.RFC3339),
		}, s.logger)
	}

	if n.ForAI != "" {
		// コンパニオンの応答には数秒かかることがある。作業中インジケーターは
		// クライアント側の責務なので、ここでは完了を待って送るだけでよい。
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		reply, err := s.companion.Say(ctx, n.ForAI)
		cancel()
		if err != nil {
			// 通知の失敗は致命的ではない。ログだけ残してラウンドは続行。
			s.logger.Error("Failed to relay event to companion", zap.Error(err))
			return
		}
		SendJSON(s.client, map[string]interface{}{
			"type":      "chatMessage",
			"message":   reply,
			"timestamp": time.Now().Format(time.RFC3339),
		}, s.logger)
	}
}

// SendJSON はクライアントへの書き込みをミューテックスで直列化して送ります。
func SendJSON(client *models.Client, v interface{}, logger *zap.Logger) {
	messageJSON, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal websocket message", zap.Error(err))
		return
	}

	client.Mu.Lock()
	defer client.Mu.Unlock()
	if client.Conn == nil {
		return // 切断中。再接続後の状態ブロードキャストで追いつく
	}
	if err := client.Conn.WriteMessage(websocket.TextMessage, messageJSON); err != nil {
		logger.Error("Failed to send websocket message", zap.Error(err))
	}
}
