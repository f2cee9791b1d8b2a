package models

import (
	"gorm.io/gorm"
)

// User モデルの定義。トークン発行時に作成されるゲストユーザー。
type User struct {
	gorm.Model
	NickName string `gorm:"not null"`
}

// ScoreRecord はユーザーごとのベストスコアを保持します（リーダーボード用）。
// ラウンドの途中経過は保存せず、セッション終了値のみを更新します。
type ScoreRecord struct {
	gorm.Model
	UserID    uint   `gorm:"uniqueIndex;not null"` // Userテーブルを参照
	NickName  string `gorm:"not null"`
	BestScore int    `gorm:"not null;default:0"`
	BestLevel int    `gorm:"not null;default:1"`
}
