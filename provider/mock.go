package provider

import (
	"context"
	"fmt"
)

// MockProvider はテスト用のContentProvider実装。Fetchはテストコードが
// Resolve/Failを呼ぶまでブロックするため、完了順序を自由に制御できます。
type MockProvider struct {
	Calls chan *MockCall
}

// MockCall は保留中のFetch呼び出し1件。
type MockCall struct {
	Excluded []string
	Style    string
	reply    chan mockResult
}

type mockResult struct {
	content *RoundContent
	err     error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Calls: make(chan *MockCall, 16)}
}

func (m *MockProvider) Fetch(ctx context.Context, excluded []string, style string) (*RoundContent, error) {
	call := &MockCall{
		Excluded: append([]string(nil), excluded...),
		Style:    style,
		reply:    make(chan mockResult, 1),
	}
	m.Calls <- call

	select {
	case res := <-call.reply:
		return res.content, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve は保留中の呼び出しを成功させます。
func (c *MockCall) Resolve(content *RoundContent) {
	c.reply <- mockResult{content: content}
}

// Fail は保留中の呼び出しを失敗させます。
func (c *MockCall) Fail(err error) {
	c.reply <- mockResult{err: err}
}

// MockLLM はチャットコンパニオン用の簡易実装。外部モデルを呼ばず、
// 受け取った入力をそのまま返します。
type MockLLM struct{}

func (MockLLM) Complete(_ context.Context, _ string, _ []ChatMessage, user string) (string, error) {
	return fmt.Sprintf("(mock) %s", user), nil
}
