package round

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reelserver/provider"
	"reelserver/reel/notify"

	"go.uber.org/zap"
)

// recordSink は通知を発行順に記録するテスト用Sink。
type recordSink struct {
	mu            sync.Mutex
	notifications []notify.Notification
	contexts      []string
	resets        int
}

func (s *recordSink) Notify(_ context.Context, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

func (s *recordSink) SendContext(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, text)
}

func (s *recordSink) ResetHistory(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// userLineIndex は指定の部分文字列を含む最初のForUser通知の位置を返す。
func (s *recordSink) userLineIndex(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if strings.Contains(n.ForUser, substr) {
			return i
		}
	}
	return -1
}

func (s *recordSink) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func newTestController() (*Controller, *provider.MockProvider, *recordSink) {
	mock := provider.NewMockProvider()
	sink := &recordSink{}
	c := NewController(mock, sink, zap.NewNop())
	c.tickInterval = 20 * time.Millisecond
	c.lockoutDelay = 60 * time.Millisecond
	return c, mock, sink
}

func mkContent(concept string) *provider.RoundContent {
	return &provider.RoundContent{
		Concept:     concept,
		Explanation: "A classic about " + concept + ".",
		ImageURL:    "data:image/png;base64,poster-" + concept,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func nextCall(t *testing.T, m *provider.MockProvider) *provider.MockCall {
	t.Helper()
	select {
	case call := <-m.Calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("expected a provider call, got none")
		return nil
	}
}

func assertNoCall(t *testing.T, m *provider.MockProvider) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	select {
	case <-m.Calls:
		t.Fatal("unexpected provider call")
	default:
	}
}

func (c *Controller) statusNow() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) pastConceptsNow() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pastList...)
}

func TestStartRoundHappyPathAndWin(t *testing.T) {
	c, mock, sink := newTestController()

	c.StartRound(context.Background())
	if got := c.statusNow(); got != StatusLoading {
		t.Fatalf("status = %v, want %v", got, StatusLoading)
	}

	call := nextCall(t, mock)
	call.Resolve(mkContent("Inception"))

	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	snap := c.Snapshot()
	if snap.TimeLeft != RoundTime {
		t.Errorf("timeLeft = %d, want %d", snap.TimeLeft, RoundTime)
	}
	if snap.ImageURL == "" {
		t.Error("imageUrl not set after commit")
	}

	c.SubmitGuess("inception")

	snap = c.Snapshot()
	if snap.Status != StatusWon {
		t.Fatalf("status = %v, want %v", snap.Status, StatusWon)
	}
	if snap.Score != 1 || snap.Level != 1 {
		t.Errorf("score/level = %d/%d, want 1/1", snap.Score, snap.Level)
	}
	if sink.userLineIndex("Inception") == -1 {
		t.Error("expected a notification containing the answer and explanation")
	}

	// 勝利後は次ラウンドのプリフェッチが自動で走り、直前の回答が除外される
	prefetch := nextCall(t, mock)
	found := false
	for _, e := range prefetch.Excluded {
		if e == "Inception" {
			found = true
		}
	}
	if !found {
		t.Errorf("prefetch exclusion list %v does not contain the finished answer", prefetch.Excluded)
	}
}

func TestStartRoundIsNoOpWhileLoading(t *testing.T) {
	c, mock, sink := newTestController()

	c.StartRound(context.Background())
	call := nextCall(t, mock)

	c.StartRound(context.Background()) // Loading中は無視される
	assertNoCall(t, mock)

	sink.mu.Lock()
	thinking := len(sink.notifications)
	sink.mu.Unlock()
	if thinking != 1 {
		t.Errorf("got %d notifications while loading, want 1", thinking)
	}

	call.Resolve(mkContent("Alien"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
}

func TestStaleResultDiscarded(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	oldCall := nextCall(t, mock)

	// リセットで旧roundIDを無効化してから新しいラウンドを開始
	c.ResetGame(context.Background())
	c.StartRound(context.Background())
	newCall := nextCall(t, mock)

	newCall.Resolve(mkContent("Heat"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	// 旧ラウンドの結果は無条件に破棄される
	oldCall.Resolve(mkContent("Jaws"))
	time.Sleep(50 * time.Millisecond)

	snap := c.Snapshot()
	if snap.Status != StatusPlaying {
		t.Fatalf("status = %v, want %v", snap.Status, StatusPlaying)
	}
	if snap.ImageURL != "data:image/png;base64,poster-Heat" {
		t.Errorf("live round was corrupted by a stale result: imageUrl = %q", snap.ImageURL)
	}
	past := c.pastConceptsNow()
	if len(past) != 1 || past[0] != "Heat" {
		t.Errorf("pastConcepts = %v, want [Heat]", past)
	}
}

func TestGuessBoundedBySanitizedAnswerLength(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Die Hard")) // サニタイズ後7文字
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	c.SubmitGuess("die")
	if snap := c.Snapshot(); snap.Guess != "die" {
		t.Errorf("guess = %q, want %q", snap.Guess, "die")
	}

	c.SubmitGuess("die... ha") // 記号と空白は取り除かれる
	if snap := c.Snapshot(); snap.Guess != "dieha" {
		t.Errorf("guess = %q, want %q", snap.Guess, "dieha")
	}

	// 回答長を超える入力は切り詰められる
	c.SubmitGuess("zzzzzzzzzzzzzz")
	snap := c.Snapshot()
	if len(snap.Guess) > 7 {
		t.Errorf("guess %q exceeds sanitized answer length", snap.Guess)
	}
}

func TestWinIsCaseInsensitiveAndIgnoresWhitespace(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Die Hard"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	c.SubmitGuess("diehard")
	if got := c.statusNow(); got != StatusWon {
		t.Fatalf("status = %v, want %v", got, StatusWon)
	}
}

func TestWrongGuessLockout(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Alien")) // 5文字
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	c.SubmitGuess("wrong")
	snap := c.Snapshot()
	if !snap.WrongGuess {
		t.Fatal("wrongGuess flag not set after incorrect full-length guess")
	}

	// ロックアウト中の入力は受け付けない
	c.SubmitGuess("alien")
	if snap := c.Snapshot(); snap.Guess != "wrong" {
		t.Errorf("guess mutated during lockout: %q", snap.Guess)
	}

	// ロックアウト明けには入力欄とフラグがクリアされる
	waitFor(t, func() bool {
		snap := c.Snapshot()
		return !snap.WrongGuess && snap.Guess == ""
	}, "lockout clear")

	// その後は普通に勝てる
	c.SubmitGuess("ALIEN")
	if got := c.statusNow(); got != StatusWon {
		t.Fatalf("status = %v, want %v", got, StatusWon)
	}
}

func TestLevelUpNotificationOrder(t *testing.T) {
	c, mock, sink := newTestController()

	// スコア4で開始し、次の勝利でレベル2に到達させる
	c.mu.Lock()
	c.score = 4
	c.mu.Unlock()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Rocky"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	c.SubmitGuess("rocky")

	snap := c.Snapshot()
	if snap.Score != 5 || snap.Level != 2 {
		t.Fatalf("score/level = %d/%d, want 5/2", snap.Score, snap.Level)
	}

	levelUpIdx := sink.userLineIndex("LEVEL UP")
	answerIdx := sink.userLineIndex("Rocky")
	if levelUpIdx == -1 || answerIdx == -1 {
		t.Fatalf("missing notifications: levelUp=%d answer=%d", levelUpIdx, answerIdx)
	}
	if levelUpIdx >= answerIdx {
		t.Errorf("level-up notification (%d) must come before the explanation notification (%d)", levelUpIdx, answerIdx)
	}
}

func TestPrefetchReadyConsumedWithoutNewFetch(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Up"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	c.SubmitGuess("up")

	// プリフェッチを完了させてスロットをreadyにする
	nextCall(t, mock).Resolve(mkContent("Seven"))
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.prefetchReady != nil
	}, "prefetch ready")

	// 次のラウンドはネットワーク待ちなしで始まる
	c.StartRound(context.Background())
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	snap := c.Snapshot()
	if snap.ImageURL != "data:image/png;base64,poster-Seven" {
		t.Errorf("round did not consume prefetched content: %q", snap.ImageURL)
	}
	assertNoCall(t, mock) // 新規フェッチは発行されない
}

func TestPrefetchPendingAwaitedNotDuplicated(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Up"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	c.SubmitGuess("up")

	prefetch := nextCall(t, mock) // まだ解決しない

	// 保留中のプリフェッチがあるうちに次ラウンドを開始
	c.StartRound(context.Background())
	assertNoCall(t, mock) // 同じハンドルを待ち、二重リクエストしない

	prefetch.Resolve(mkContent("Fargo"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	if snap := c.Snapshot(); snap.ImageURL != "data:image/png;base64,poster-Fargo" {
		t.Errorf("round did not await the pending prefetch: %q", snap.ImageURL)
	}
}

func TestStyleChangeInvalidatesPrefetch(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Up"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	c.SubmitGuess("up")

	stalePrefetch := nextCall(t, mock)

	// スタイル変更でスロットが無効化される
	c.SetStyle("noir")

	c.StartRound(context.Background())
	fresh := nextCall(t, mock)
	if fresh.Style != "noir" {
		t.Errorf("fresh fetch style = %q, want %q", fresh.Style, "noir")
	}

	// 旧スタイルのプリフェッチ結果は破棄される
	stalePrefetch.Resolve(mkContent("Casablanca"))
	fresh.Resolve(mkContent("Chinatown"))

	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	if snap := c.Snapshot(); snap.ImageURL != "data:image/png;base64,poster-Chinatown" {
		t.Errorf("old-style prefetch leaked into the new round: %q", snap.ImageURL)
	}
}

func TestPrefetchFailureClearsSlot(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Up"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	c.SubmitGuess("up")

	nextCall(t, mock).Fail(errors.New("quota exceeded"))

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.prefetchPending == nil && c.prefetchReady == nil
	}, "prefetch slot cleared")

	// 生きているラウンドには影響しない
	if got := c.statusNow(); got != StatusWon {
		t.Fatalf("status = %v, want %v", got, StatusWon)
	}

	// 次のStartRoundは新規フェッチに素通りする
	c.StartRound(context.Background())
	nextCall(t, mock)
}

func TestFetchFailureReturnsToIdleWithError(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Fail(errors.New("model unavailable"))

	waitFor(t, func() bool { return c.statusNow() == StatusIdle }, "idle status")
	if snap := c.Snapshot(); snap.Error == "" {
		t.Error("expected a user-visible error message")
	}

	// リトライは新規フェッチから
	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Big"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	if snap := c.Snapshot(); snap.Error != "" {
		t.Errorf("error not cleared on new round: %q", snap.Error)
	}
}

func TestTimeoutPath(t *testing.T) {
	c, mock, sink := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Se7en"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	// 20ms刻みなので30ティックは1秒未満で消化される
	waitFor(t, func() bool { return c.statusNow() == StatusLost }, "lost status")

	if snap := c.Snapshot(); snap.TimeLeft != 0 {
		t.Errorf("timeLeft = %d, want 0", snap.TimeLeft)
	}
	if sink.userLineIndex("Se7en") == -1 {
		t.Error("expected a timeout notification containing the answer")
	}

	// タイムアウト後も次ラウンドのプリフェッチが自動で走る
	nextCall(t, mock)
}

func TestResetIdempotence(t *testing.T) {
	c, mock, sink := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Inception"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")
	c.SubmitGuess("inception")

	c.ResetGame(context.Background())
	c.ResetGame(context.Background())

	snap := c.Snapshot()
	if snap.Status != StatusIdle || snap.Score != 0 || snap.Level != 1 {
		t.Errorf("after double reset: status=%v score=%d level=%d, want idle/0/1", snap.Status, snap.Score, snap.Level)
	}
	if past := c.pastConceptsNow(); len(past) != 0 {
		t.Errorf("pastConcepts after reset = %v, want empty", past)
	}
	if sink.resetCount() != 2 {
		t.Errorf("chat history resets = %d, want 2", sink.resetCount())
	}
}

func TestLockoutLeakingPastRoundEndIsHarmless(t *testing.T) {
	c, mock, _ := newTestController()

	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Alien"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	c.SubmitGuess("wrong") // ロックアウト開始

	// ロックアウトが明ける前に次のラウンドを始める
	c.ResetGame(context.Background())
	c.StartRound(context.Background())
	nextCall(t, mock).Resolve(mkContent("Akira"))
	waitFor(t, func() bool { return c.statusNow() == StatusPlaying }, "playing status")

	c.SubmitGuess("aki")
	time.Sleep(100 * time.Millisecond) // 旧ロックアウトタイマーの発火を跨ぐ

	// 旧ラウンドのタイマーは新しいラウンドの入力を消さない
	snap := c.Snapshot()
	if snap.Guess != "aki" || snap.WrongGuess {
		t.Errorf("leaked lockout timer corrupted the new round: guess=%q wrongGuess=%v", snap.Guess, snap.WrongGuess)
	}
}
