package handlers

import (
	"net/http"

	"reelserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// リーダーボード1行分のレスポンス
type LeaderboardEntry struct {
	NickName  string `json:"nickname"`
	BestScore int    `json:"bestScore"`
	BestLevel int    `json:"bestLevel"`
}

// LeaderboardHandler はベストスコア上位10件を返します。
func LeaderboardHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger) {
	var records []models.ScoreRecord
	if err := db.Order("best_score DESC").Limit(10).Find(&records).Error; err != nil {
		logger.Error("Failed to load leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load leaderboard"})
		return
	}

	entries := make([]LeaderboardEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, LeaderboardEntry{
			NickName:  record.NickName,
			BestScore: record.BestScore,
			BestLevel: record.BestLevel,
		})
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
