package main

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"reelserver/database"   //PostgreSQLとRedisの初期化
	"reelserver/handlers"   //ゲストトークンとリーダーボードのHTTPハンドラ
	"reelserver/provider"   //AIコンテンツ生成（お題・ポスター・チャット補完）
	"reelserver/reel"       //ゲーム本体のWebsocketエンドポイント
	"reelserver/reel/connection"
	"reelserver/utils"      //ロガーの初期化とCronジョブ(PostgreSQLの定期クリーンナップ)

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

func main() {
	var logger *zap.Logger
	var err error
	logger, err = utils.InitLogger() // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	// Websocket接続で用いる変数を初期化
	registry := connection.NewRegistry()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	// OpenAIプロバイダーの初期化（お題生成とチャットコンパニオンで共用）
	prov, err := provider.NewOpenAIProvider(&provider.LLMSettings{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    os.Getenv("OPENAI_BASE_URL"),
		TextModel:  os.Getenv("REEL_TEXT_MODEL"),
		ImageModel: os.Getenv("REEL_IMAGE_MODEL"),
	}, logger)
	if err != nil {
		logger.Fatal("OpenAIプロバイダーの初期化に失敗しました", zap.Error(err))
	}

	// 非同期でPostgreSQLとRedisの初期化
	var db *gorm.DB
	var rdb *redis.Client
	done := make(chan bool)

	go func() {
		config, err := database.LoadConfig("config.json")
		if err != nil {
			logger.Fatal("設定ファイルの読み込みに失敗しました", zap.Error(err))
		}
		db, err = database.InitPostgreSQL(config, logger)
		if err != nil {
			logger.Fatal("PostgreSQLの初期化に失敗しました", zap.Error(err))
		}
		done <- true
	}()

	go func() {
		rdb, err = database.InitRedis(logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done

	// クーロンスケジューラのセットアップと呼び出し
	go utils.CronCleaner(db, logger)

	router := gin.Default()

	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"}, //ここにデプロイサーバーのオリジンを設定
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	//各HTTPリクエストのルーティング
	router.POST("/auth", func(c *gin.Context) {
		handlers.AuthHandler(c, db, logger)
	})
	router.GET("/leaderboard", func(c *gin.Context) {
		handlers.LeaderboardHandler(c, db, logger)
	})
	router.GET("/ws", func(c *gin.Context) {
		reel.HandleConnections(c.Request.Context(), c.Writer, c.Request, db, rdb, logger, registry, upgrader, prov, prov)
	})

	// デフォルトポートは ":8080"
	router.Run()
}
