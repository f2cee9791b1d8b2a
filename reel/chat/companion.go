package chat

import (
	"context"
	"sync"

	"reelserver/provider"

	"go.uber.org/zap"
)

const companionSystemPrompt = `You are the chat companion of "ReelGuess", a movie guessing game.
The player sees an AI generated movie poster and types the title into a letter grid while a countdown runs.
You narrate game events you receive and banter with the player. Stay short (1-2 sentences), playful, and NEVER reveal the answer of a running round.`

// 履歴が伸びすぎた場合に古いターンから切り詰める上限
const maxHistoryTurns = 40

// Companion はAIチャット側チャネル。ゲームイベントの実況と
// プレイヤーとの雑談を1つの会話履歴で行います。
type Companion struct {
	llm    provider.LLMClient
	logger *zap.Logger

	mu      sync.Mutex
	history []provider.ChatMessage
}

func NewCompanion(llm provider.LLMClient, logger *zap.Logger) *Companion {
	return &Companion{llm: llm, logger: logger}
}

// Say はユーザー発言またはゲームイベントを会話に投入し、応答を返します。
func (c *Companion) Say(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	history := append([]provider.ChatMessage(nil), c.history...)
	c.mu.Unlock()

	reply, err := c.llm.Complete(ctx, companionSystemPrompt, history, text)
	if err != nil {
		c.logger.Error("Companion completion failed", zap.Error(err))
		return "", err
	}

	c.mu.Lock()
	c.history = append(c.history,
		provider.ChatMessage{Role: "user", Content: text},
		provider.ChatMessage{Role: "assistant", Content: reply},
	)
	if len(c.history) > maxHistoryTurns {
		c.history = c.history[len(c.history)-maxHistoryTurns:]
	}
	c.mu.Unlock()

	return reply, nil
}

// AddContext は表示されない状況更新（スコアやレベル）を履歴に追加します。
// 応答は求めません。
func (c *Companion) AddContext(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, provider.ChatMessage{Role: "system", Content: text})
	if len(c.history) > maxHistoryTurns {
		c.history = c.history[len(c.history)-maxHistoryTurns:]
	}
}

// Reset は会話履歴を消去します（ゲームリセット時）。
func (c *Companion) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
