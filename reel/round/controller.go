package round

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"reelserver/provider"
	"reelserver/reel/notify"

	"go.uber.org/zap"
)

// RoundTime は1ラウンドの制限秒数。
const RoundTime = 30

// Status はラウンドの状態。
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
)

// Snapshot はクライアントに送る現在状態。回答そのものは含めず、
// マス目の形（単語ごとの文字数）だけを渡す。
type Snapshot struct {
	Type        string `json:"type"` // 常に "state"
	Status      Status `json:"status"`
	AnswerShape []int  `json:"answerShape"` // 単語ごとの文字数
	Guess       string `json:"guess"`
	WrongGuess  bool   `json:"wrongGuess"`
	TimeLeft    int    `json:"timeLeft"`
	Score       int    `json:"score"`
	Level       int    `json:"level"`
	ImageURL    string `json:"imageUrl"`
	Error       string `json:"error,omitempty"`
}

// fetchResult はコンテンツ取得1回分の結果。
type fetchResult struct {
	content *provider.RoundContent
	err     error
}

// Controller はラウンド進行の唯一の書き込み主体。状態の全変更は
// ミューテックス下のメソッド経由でのみ行われ、非同期完了（フェッチ、
// タイマーティック、ロックアウト解除）はroundIDを照合してから反映します。
// roundID照合が古い結果に対する唯一かつ十分な防御です。
type Controller struct {
	provider provider.ContentProvider
	sink     notify.Sink
	logger   *zap.Logger

	// OnState は状態変更のたびに呼ばれる（接続層がwebsocketに流す）。
	OnState func(Snapshot)
	// OnWin は勝利のたびに呼ばれる（スコア永続化用フック）。
	OnWin func(score, level int)

	mu          sync.Mutex
	roundID     uint64
	status      Status
	answer      string // 元のタイトル（空白を含む）
	sanitized   string // 比較用。空白を除去したもの
	explanation string
	imageURL    string
	errMsg      string
	guess       string
	wrongGuess  bool
	timeLeft    int
	score       int
	level       int
	pastList    []string
	style       string

	// プリフェッチスロット：pendingかreadyのどちらか一方（または両方nil）
	prefetchPending chan fetchResult
	prefetchReady   *provider.RoundContent

	timerCancel context.CancelFunc

	// テストで短縮できるようにフィールド化。通常は1秒
	tickInterval time.Duration
	lockoutDelay time.Duration
}

func NewController(p provider.ContentProvider, sink notify.Sink, logger *zap.Logger) *Controller {
	return &Controller{
		provider:     p,
		sink:         sink,
		logger:       logger,
		status:       StatusIdle,
		level:        1,
		tickInterval: time.Second,
		lockoutDelay: time.Second,
	}
}

// StartRound は新しいラウンドを開始します。Loading中の呼び出しは無視。
// roundIDを必ず進めるため、解決前の古いフェッチ結果はすべて破棄されます。
func (c *Controller) StartRound(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusLoading {
		c.logger.Info("StartRound ignored: already loading")
		return
	}

	c.roundID++
	captured := c.roundID
	c.status = StatusLoading
	c.guess = ""
	c.wrongGuess = false
	c.imageURL = "" // 前ラウンドの画像が一瞬残るのを防ぐ
	c.errMsg = ""
	c.answer = ""
	c.sanitized = ""
	c.explanation = ""
	c.stopTimerLocked()

	// 「考え中」通知はコンテンツ解決の前に必ず出す
	c.sink.Notify(ctx, notify.Notification{
		ForUser: "Summoning a new movie...",
		ForAI:   "A new round is loading. Tell the player you're conjuring up a movie, in one short line.",
	})

	switch {
	case c.prefetchReady != nil:
		// 1. プリフェッチ済みコンテンツがあれば即座に消費（ネットワーク待ちなし）
		content := c.prefetchReady
		c.prefetchReady = nil
		c.commitLocked(captured, content, nil)

	case c.prefetchPending != nil:
		// 2. プリフェッチが飛行中なら同じハンドルを待つ（二重リクエストしない）
		ch := c.prefetchPending
		c.prefetchPending = nil // スロットから取り出した時点で消費扱い
		go func() {
			res := <-ch
			c.mu.Lock()
			defer c.mu.Unlock()
			c.commitLocked(captured, res.content, res.err)
		}()

	default:
		// 3. 新規フェッチ
		excluded := append([]string(nil), c.pastList...)
		style := c.style
		go func() {
			content, err := c.provider.Fetch(ctx, excluded, style)
			c.mu.Lock()
			defer c.mu.Unlock()
			c.commitLocked(captured, content, err)
		}()
	}

	c.broadcastLocked()
}

// commitLocked はフェッチ完了をラウンドに反映します。capturedが現在の
// roundIDと一致しない場合、結果は無条件に破棄されます（唯一の鮮度判定）。
func (c *Controller) commitLocked(captured uint64, content *provider.RoundContent, err error) {
	if captured != c.roundID {
		c.logger.Info("Stale content fetch discarded",
			zap.Uint64("captured", captured),
			zap.Uint64("current", c.roundID),
		)
		return
	}

	if err != nil {
		c.logger.Error("Content fetch failed", zap.Error(err))
		c.errMsg = "Couldn't come up with a movie. Try again!"
		c.status = StatusIdle
		// 失敗したプリフェッチは再試行しない。スロットを空にして
		// 次のStartRoundに新規フェッチさせる
		c.prefetchPending = nil
		c.prefetchReady = nil
		c.broadcastLocked()
		return
	}

	c.answer = content.Concept
	c.sanitized = sanitizeAnswer(content.Concept)
	c.explanation = content.Explanation
	c.imageURL = content.ImageURL
	c.pastList = append(c.pastList, content.Concept)
	c.timeLeft = RoundTime
	c.status = StatusPlaying
	c.armTimerLocked(captured)

	c.sink.Notify(context.Background(), notify.Notification{
		ForAI: fmt.Sprintf("The round just started: a poster is on screen and the player has %d seconds to guess a %d letter title. Hype them up in one line. Never reveal the answer.", RoundTime, runeLen(c.sanitized)),
	})
	c.logger.Info("Round started",
		zap.Uint64("roundID", c.roundID),
		zap.Int("answerLen", runeLen(c.sanitized)),
	)
	c.broadcastLocked()
}

// SubmitGuess は入力欄の現在値を受け取り、英数字以外を除去したうえで
// 回答長まで切り詰めて差し替えます。Playing以外とロックアウト中は無視。
func (c *Controller) SubmitGuess(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusPlaying || c.wrongGuess {
		return
	}

	guess := sanitizeGuess(value)
	limit := runeLen(c.sanitized)
	if runeLen(guess) > limit {
		guess = string([]rune(guess)[:limit])
	}
	c.guess = guess

	if limit > 0 && runeLen(guess) == limit {
		if strings.EqualFold(guess, c.sanitized) {
			c.winLocked()
		} else {
			c.wrongLocked()
		}
	}

	c.broadcastLocked()
}

func (c *Controller) winLocked() {
	c.status = StatusWon
	c.stopTimerLocked()
	c.score++
	newLevel := c.score/5 + 1
	leveledUp := newLevel > c.level
	c.level = newLevel

	// レベルアップ通知は解説通知より先に発行する
	if leveledUp {
		c.sink.Notify(context.Background(), notify.Notification{
			ForUser: fmt.Sprintf("LEVEL UP! You reached level %d!", c.level),
			ForAI:   fmt.Sprintf("The player just reached level %d. Congratulate them in one excited line.", c.level),
		})
	}
	c.sink.Notify(context.Background(), notify.Notification{
		ForUser: fmt.Sprintf("Correct! It was %q. %s", c.answer, c.explanation),
		ForAI:   fmt.Sprintf("The player guessed %q correctly! React in one line. Fun fact you can use: %s", c.answer, c.explanation),
	})
	c.sink.SendContext(context.Background(), fmt.Sprintf("Player stats: score=%d, level=%d.", c.score, c.level))

	c.logger.Info("Round won", zap.Uint64("roundID", c.roundID), zap.Int("score", c.score), zap.Int("level", c.level))

	if c.OnWin != nil {
		go c.OnWin(c.score, c.level)
	}

	c.prefetchLocked()
}

func (c *Controller) wrongLocked() {
	c.wrongGuess = true
	captured := c.roundID

	// ロックアウト解除はローカルタイマーでよい（ネットワーク不要）。
	// ラウンドが先に終わっていた場合に備えてroundIDで守る
	time.AfterFunc(c.lockoutDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.roundID != captured {
			return // 新しいラウンドが始まっている。そちらは既にクリア済み
		}
		c.wrongGuess = false
		c.guess = ""
		c.broadcastLocked()
	})
}

// timeoutLocked はtimeLeftが0になったときのタイムアウト処理。
func (c *Controller) timeoutLocked() {
	c.status = StatusLost
	c.stopTimerLocked()

	c.sink.Notify(context.Background(), notify.Notification{
		ForUser: fmt.Sprintf("Time's up! It was %q. %s", c.answer, c.explanation),
		ForAI:   fmt.Sprintf("Time ran out! The answer was %q. Console the player in one line. Fun fact: %s", c.answer, c.explanation),
	})

	c.logger.Info("Round lost on timeout", zap.Uint64("roundID", c.roundID))

	c.prefetchLocked()
}

// prefetchLocked は次ラウンド用の投機的フェッチを1件だけ発行します。
// スロットが埋まっている間は何もしません。
func (c *Controller) prefetchLocked() {
	if c.prefetchPending != nil || c.prefetchReady != nil {
		return
	}

	// 除外リストは過去のお題＋直前の回答（まだ未登録の場合に備える）
	excluded := append([]string(nil), c.pastList...)
	if c.answer != "" && !contains(excluded, c.answer) {
		excluded = append(excluded, c.answer)
	}

	ch := make(chan fetchResult, 1)
	c.prefetchPending = ch
	style := c.style

	// プリフェッチは接続の寿命に縛られないバックグラウンド処理
	go func() {
		content, err := c.provider.Fetch(context.Background(), excluded, style)
		ch <- fetchResult{content: content, err: err}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.prefetchPending != ch {
			// スロットが消費済みか無効化済み。結果は破棄
			c.logger.Info("Prefetch result discarded: slot no longer current")
			return
		}
		c.prefetchPending = nil
		if err != nil {
			// プリフェッチの失敗はラウンドに影響しない。スロットを空に戻し、
			// 次のStartRoundで新規フェッチに素通りさせる
			c.logger.Error("Prefetch failed", zap.Error(err))
			return
		}
		c.prefetchReady = content
		c.logger.Info("Prefetch ready", zap.Uint64("roundID", c.roundID))
	}()
}

// SetStyle はポスターのスタイルタグを変更します。変更はプリフェッチ
// スロットを無効化し、旧スタイルのコンテンツが次ラウンドに出ないようにします。
func (c *Controller) SetStyle(style string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if style == c.style {
		return
	}
	c.style = style
	c.prefetchPending = nil
	c.prefetchReady = nil
	c.logger.Info("Style changed, prefetch slot invalidated", zap.String("style", style))
}

// ResetGame は全状態を初期値に戻します。どの状態からでも呼べます。
func (c *Controller) ResetGame(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.roundID++
	c.stopTimerLocked()
	c.status = StatusIdle
	c.answer = ""
	c.sanitized = ""
	c.explanation = ""
	c.imageURL = ""
	c.errMsg = ""
	c.guess = ""
	c.wrongGuess = false
	c.timeLeft = 0
	c.score = 0
	c.level = 1
	c.pastList = nil
	c.prefetchPending = nil
	c.prefetchReady = nil

	// コンパニオンの会話履歴も仕切り直す
	c.sink.ResetHistory(ctx)

	c.logger.Info("Game reset", zap.Uint64("roundID", c.roundID))
	c.broadcastLocked()
}

// Close はセッション破棄時にタイマーを確実に止めます。
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roundID++ // 飛行中の完了をすべて無効化
	c.stopTimerLocked()
	c.prefetchPending = nil
	c.prefetchReady = nil
}

// armTimerLocked は1秒刻みのカウントダウンを起動します。必ず既存タイマーを
// 止めてから起動するため、ティックの二重ストリームは発生しません。
func (c *Controller) armTimerLocked(captured uint64) {
	c.stopTimerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.timerCancel = cancel

	interval := c.tickInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.roundID != captured || c.status != StatusPlaying {
					c.mu.Unlock()
					return
				}
				c.timeLeft--
				if c.timeLeft <= 0 {
					c.timeLeft = 0
					c.timeoutLocked()
				}
				c.broadcastLocked()
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
}

// Snapshot は現在状態のコピーを返します（HTTP/デバッグ用）。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Type:        "state",
		Status:      c.status,
		AnswerShape: answerShape(c.answer),
		Guess:       c.guess,
		WrongGuess:  c.wrongGuess,
		TimeLeft:    c.timeLeft,
		Score:       c.score,
		Level:       c.level,
		ImageURL:    c.imageURL,
		Error:       c.errMsg,
	}
}

func (c *Controller) broadcastLocked() {
	if c.OnState != nil {
		c.OnState(c.snapshotLocked())
	}
}

// sanitizeAnswer は回答から空白を取り除きます（比較と長さ判定用）。
func sanitizeAnswer(answer string) string {
	var b strings.Builder
	for _, r := range answer {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeGuess は入力から英数字以外をすべて取り除きます。
func sanitizeGuess(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// answerShape は単語ごとの文字数を返します（クライアントのマス目描画用）。
func answerShape(answer string) []int {
	if answer == "" {
		return nil
	}
	var shape []int
	for _, word := range strings.Fields(answer) {
		shape = append(shape, runeLen(word))
	}
	return shape
}

func runeLen(s string) int {
	return len([]rune(s))
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
