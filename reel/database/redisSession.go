package database

import (
	"context"
	"encoding/json"
	"time"

	"reelserver/models"
	"reelserver/reel/notify"

	"go.uber.org/zap"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ValidateSessionID はRedisのセッション情報を検証し、有効であれば
// 復元したクライアント情報を返します。
func ValidateSessionID(ctx context.Context, rdb *redis.Client, sessionID string, logger *zap.Logger) *models.Client {
	if sessionID == "" {
		return nil
	}

	sessionInfoJSON, err := rdb.Get(ctx, "session:"+sessionID).Result()
	if err != nil {
		logger.Error("Failed to retrieve session info", zap.Error(err))
		return nil
	}

	var sessionInfo map[string]interface{}
	if err := json.Unmarshal([]byte(sessionInfoJSON), &sessionInfo); err != nil {
		logger.Error("Failed to decode session info", zap.Error(err))
		return nil
	}

	userID, ok := sessionInfo["userID"].(float64) // JSONの数値はfloat64としてデコードされます
	if !ok {
		logger.Error("Invalid session info: missing userID")
		return nil
	}
	nickName, ok := sessionInfo["nickName"].(string)
	if !ok {
		logger.Error("Invalid session info: missing nickName")
		return nil
	}

	// 有効なセッション情報を基にClientオブジェクトを作成
	return &models.Client{
		UserID:   uint(userID),
		NickName: nickName,
	}
}

// GenerateAndStoreSessionID は新しいセッションIDを発行してRedisに保存し、
// クライアントに送り返します。再接続時のセッション復元に使われます。
func GenerateAndStoreSessionID(ctx context.Context, client *models.Client, rdb *redis.Client, logger *zap.Logger) error {
	sessionID := uuid.New().String()

	// セッション情報をJSON形式でエンコード
	sessionInfo := map[string]interface{}{
		"userID":   client.UserID,
		"nickName": client.NickName,
	}
	sessionInfoJSON, err := json.Marshal(sessionInfo)
	if err != nil {
		logger.Error("Error encoding session info", zap.Error(err))
		return err
	}

	// セッションIDとセッション情報をRedisに保存（24時間の有効期限）
	err = rdb.Set(ctx, "session:"+sessionID, sessionInfoJSON, 24*time.Hour).Err()
	if err != nil {
		logger.Error("Error storing session info in Redis", zap.Error(err))
		return err
	}

	// セッションIDをクライアントに送り返す
	notify.SendJSON(client, map[string]interface{}{
		"type":      "sessionID",
		"sessionID": sessionID,
		"userID":    client.UserID,
	}, logger)
	logger.Info("Session ID issued", zap.String("sessionID", sessionID), zap.Uint("UserID", client.UserID))

	return nil
}

// DeleteSessionID は旧セッションを破棄します（復元後の旧ID無効化用）。
func DeleteSessionID(ctx context.Context, rdb *redis.Client, sessionID string) {
	rdb.Del(ctx, "session:"+sessionID)
}
