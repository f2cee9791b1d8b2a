package provider

import "context"

// ChatMessage は会話履歴の1ターン。
type ChatMessage struct {
	Role    string // "user" / "assistant" / "system"
	Content string
}

// LLMClient 抽象チャットクライアント。チャットコンパニオンが使用し、
// テストではMockに差し替え可能。
type LLMClient interface {
	Complete(ctx context.Context, system string, history []ChatMessage, user string) (string, error)
}

// LLMSettings 具体実装に渡す基礎設定。
type LLMSettings struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
}
