package provider

import (
	"context"
	"errors"
)

// RoundContent は1ラウンド分のお題。生成後は不変。
type RoundContent struct {
	Concept     string // 映画タイトル（回答）
	Explanation string // 正解発表時に表示する解説
	ImageURL    string // 生成ポスター画像のdata URL
}

// ContentProvider はお題を非同期に生成する外部サービスの抽象。
// excludedは重複回避のための除外リスト（ベストエフォート）。
type ContentProvider interface {
	Fetch(ctx context.Context, excluded []string, style string) (*RoundContent, error)
}

// ErrInvalidContent はモデル応答が構造的に壊れていた場合のエラー。
var ErrInvalidContent = errors.New("provider: structurally invalid content")
