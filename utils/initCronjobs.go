package utils

import (
	"time"

	"reelserver/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CronCleaner は長期間プレイのないゲストユーザーと
// そのスコアレコードを定期削除します。
func CronCleaner(db *gorm.DB, logger *zap.Logger) {
	c := cron.New()

	// 30日以上更新のないゲストデータを削除するジョブ（毎日深夜に実行）
	c.AddFunc("0 3 * * *", func() {
		logger.Info("古いゲストデータの削除処理を開始")
		cutoff := time.Now().Add(-30 * 24 * time.Hour)

		// 対象ユーザーのIDを取得
		staleUserIDs := []uint{}
		db.Model(&models.User{}).
			Where("updated_at <= ?", cutoff).
			Pluck("id", &staleUserIDs)

		if len(staleUserIDs) == 0 {
			logger.Info("削除対象のゲストデータはありません")
			return
		}

		// スコアレコードを先に削除
		if err := db.Where("user_id IN ?", staleUserIDs).Delete(&models.ScoreRecord{}).Error; err != nil {
			logger.Error("スコアレコードの削除に失敗しました", zap.Error(err))
			return
		}

		// 最後にユーザー自体を削除
		result := db.Where("id IN ?", staleUserIDs).Delete(&models.User{})
		if result.Error != nil {
			logger.Error("ゲストユーザーの削除に失敗しました", zap.Error(result.Error))
		} else {
			logger.Info("古いゲストデータの削除完了", zap.Int("users_deleted", int(result.RowsAffected)))
		}
	})

	c.Start()
}
