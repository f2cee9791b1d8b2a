package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIProvider はopenai-go SDKでお題の生成とチャット補完を行います。
// ContentProviderとLLMClientの両方を実装。
type OpenAIProvider struct {
	TextModel  string
	ImageModel string
	Opts       []option.RequestOption
	Logger     *zap.Logger
}

func NewOpenAIProvider(cfg *LLMSettings, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set OPENAI_API_KEY")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "dall-e-3"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		TextModel:  cfg.TextModel,
		ImageModel: cfg.ImageModel,
		Opts:       opts,
		Logger:     logger,
	}, nil
}

const conceptSystemPrompt = `You are the content generator for a movie guessing game.
Pick one well-known movie whose title contains only letters, digits and spaces, and reply with a strict JSON object:
{"concept": "<movie title>", "explanation": "<one playful sentence revealed after the round, explaining the movie and the poster>"}
Reply with JSON only, no markdown fences, no extra text.`

// conceptPayload はモデル応答のJSON形式。
type conceptPayload struct {
	Concept     string `json:"concept"`
	Explanation string `json:"explanation"`
}

// Fetch は除外リストとスタイルを踏まえてお題1件を生成します。
// テキスト生成→ポスター画像生成の2段階で、どちらの失敗も呼び出し側で
// ContentFetchErrorとして扱われます。
func (p *OpenAIProvider) Fetch(ctx context.Context, excluded []string, style string) (*RoundContent, error) {
	client := openai.NewClient(p.Opts...)

	userPrompt := "Pick a movie."
	if len(excluded) > 0 {
		userPrompt = fmt.Sprintf("Pick a movie. Do NOT pick any of these already used titles: %s.", strings.Join(excluded, "; "))
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.TextModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(conceptSystemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}

	payload, err := parseConceptPayload(resp.Choices[0].Message.Content)
	if err != nil {
		p.Logger.Error("Concept payload parse failed", zap.Error(err), zap.String("raw", resp.Choices[0].Message.Content))
		return nil, err
	}

	imageURL, err := p.generatePoster(ctx, &client, payload.Concept, style)
	if err != nil {
		return nil, err
	}

	return &RoundContent{
		Concept:     payload.Concept,
		Explanation: payload.Explanation,
		ImageURL:    imageURL,
	}, nil
}

// generatePoster はタイトルを明かさないポスター画像を生成し、
// data URLとして返します（クライアント側の追加フェッチ不要）。
func (p *OpenAIProvider) generatePoster(ctx context.Context, client *openai.Client, concept, style string) (string, error) {
	prompt := fmt.Sprintf("A movie poster evoking the film %q WITHOUT any text, letters or title on it.", concept)
	if style != "" {
		prompt += fmt.Sprintf(" Art style: %s.", style)
	}

	img, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(p.ImageModel),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		Size:           openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return "", err
	}
	if len(img.Data) == 0 || img.Data[0].B64JSON == "" {
		return "", errors.New("openai: empty image data")
	}
	return "data:image/png;base64," + img.Data[0].B64JSON, nil
}

// parseConceptPayload は応答JSONを検証して取り出します。
// コードフェンス付きで返ってくるモデルがあるため、前処理で剥がします。
func parseConceptPayload(raw string) (*conceptPayload, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload conceptPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, ErrInvalidContent
	}
	if strings.TrimSpace(payload.Concept) == "" || strings.TrimSpace(payload.Explanation) == "" {
		return nil, ErrInvalidContent
	}
	return &payload, nil
}

// Complete はチャットコンパニオン用の補完呼び出し。
func (p *OpenAIProvider) Complete(ctx context.Context, system string, history []ChatMessage, user string) (string, error) {
	client := openai.NewClient(p.Opts...)

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
	}
	for _, h := range history {
		role := h.Role
		if role == "" {
			role = "user"
		}
		switch role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(user))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.TextModel),
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
