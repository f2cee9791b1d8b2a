package connection

import (
	"context"
	"errors"
	"sync"

	"reelserver/models"
	"reelserver/provider"
	"reelserver/reel/chat"
	"reelserver/reel/notify"
	"reelserver/reel/round"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gorilla/websocket"
)

// Session は1プレイヤー分のゲームインスタンス。接続が切れても
// セッション自体はメモリ上に残り、再接続で同じ進行状態に戻れます。
type Session struct {
	UserID     uint
	Client     *models.Client
	Controller *round.Controller
	Sink       *notify.WsSink
}

// Registry はユーザーIDごとのセッション一覧。複数の接続ハンドラから
// 触られるためミューテックスで守ります。
type Registry struct {
	mu       sync.Mutex
	sessions map[uint]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint]*Session)}
}

// ManageSession はユーザーのセッションを検索または作成します。
// 既存セッションがあれば新しい接続を差し替えて再参加させます。
func (r *Registry) ManageSession(ctx context.Context, db *gorm.DB, logger *zap.Logger, client *models.Client, conn *websocket.Conn, prov provider.ContentProvider, llm provider.LLMClient) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[client.UserID]; ok {
		// セッションが既に存在する場合、接続だけ差し替えて復帰
		existing.Client.Mu.Lock()
		existing.Client.Conn = conn
		existing.Client.NickName = client.NickName
		existing.Client.Mu.Unlock()

		logger.Info("Player rejoined the session", zap.Uint("UserID", client.UserID))

		// 現在の状態を送って画面を追いつかせる
		notify.SendJSON(existing.Client, existing.Controller.Snapshot(), logger)
		return existing
	}

	// 新規セッションの構築
	companion := chat.NewCompanion(llm, logger)
	sink := notify.NewWsSink(client, companion, logger)
	controller := round.NewController(prov, sink, logger)

	session := &Session{
		UserID:     client.UserID,
		Client:     client,
		Controller: controller,
		Sink:       sink,
	}

	// 状態変更をそのままwebsocketへ流す
	controller.OnState = func(s round.Snapshot) {
		notify.SendJSON(session.Client, s, logger)
	}
	// 勝利のたびにベストスコアを永続化
	controller.OnWin = func(score, level int) {
		PersistBestScore(db, logger, session.Client, score, level)
	}

	r.sessions[client.UserID] = session
	logger.Info("New session created", zap.Uint("UserID", client.UserID))

	// 初期状態（Idle）を送る
	notify.SendJSON(client, controller.Snapshot(), logger)

	return session
}

// PersistBestScore はスコアレコードを更新します。既存より低いスコアは無視。
func PersistBestScore(db *gorm.DB, logger *zap.Logger, client *models.Client, score, level int) {
	if db == nil {
		return
	}

	var record models.ScoreRecord
	err := db.Where("user_id = ?", client.UserID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = models.ScoreRecord{
			UserID:    client.UserID,
			NickName:  client.NickName,
			BestScore: score,
			BestLevel: level,
		}
		if err := db.Create(&record).Error; err != nil {
			logger.Error("Failed to create score record", zap.Error(err))
		}
		return
	}
	if err != nil {
		logger.Error("Failed to load score record", zap.Error(err))
		return
	}

	if score > record.BestScore {
		record.BestScore = score
		record.BestLevel = level
		record.NickName = client.NickName
		if err := db.Save(&record).Error; err != nil {
			logger.Error("Failed to update score record", zap.Error(err))
		}
	}
}
