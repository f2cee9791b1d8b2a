package models

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Websocketクライアントを定義。1接続 = 1プレイヤーセッション。
// タイマーのブロードキャストと通知ワーカーが並行して書き込むため、
// 書き込みはMuで直列化すること。
type Client struct {
	Conn     *websocket.Conn
	Mu       sync.Mutex // WriteMessageの直列化用
	UserID   uint       // JWTから抽出したユーザーID
	NickName string
}
