package handlers

import (
	"net/http"
	"strings"

	"reelserver/auth"
	"reelserver/middlewares"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ゲストトークン発行リクエストの構造体
type AuthRequest struct {
	NickName string `json:"nickname"`
}

// AuthHandler はゲストトークンを発行するハンドラです。有効なトークンを
// 持っている場合はそのユーザーIDを引き継いで再発行します。
func AuthHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger) {
	var request AuthRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.Error("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}

	nickName := strings.TrimSpace(request.NickName)
	if nickName == "" {
		nickName = "Guest"
	}

	// 既存トークンがあればユーザーIDを引き継ぐ
	var existingUserID uint
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tokenString != "" {
		if claims, err := auth.ParseClaims(tokenString); err == nil {
			existingUserID = claims.UserID
		}
	}

	token, userID, err := middlewares.GenerateToken(db, logger, nickName, existingUserID)
	if err != nil {
		logger.Error("Token generation error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "userID": userID})
}
