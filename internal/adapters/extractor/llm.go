package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"ride-match-bot/internal/domain"
	openai "ride-match-bot/internal/infra/openai"
)

// MinLength задаёт длину, короче которой сообщения не отправляются в модель.
const MinLength = 5

var (
	// ErrEmptyResponse возвращается, если модель не вернула текст.
	ErrEmptyResponse = errors.New("extractor: пустой ответ модели")
	// ErrMalformed возвращается, если ответ модели не удалось разобрать.
	ErrMalformed = errors.New("extractor: некорректный ответ модели")
)

var (
	smallTalk  = regexp.MustCompile(`(?i)^(hi|hey|hello|thanks|thank you|ok|okay|lol|haha|yes|no|sure|nice|cool|great|good|bye|gm|gn|sup|yo|bruh|bro)[\s!.?]*$`)
	linkOnly   = regexp.MustCompile(`(?i)^https?://`)
	codeFence  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLM извлекает заявки из текста через Chat Completions.
type LLM struct {
	client        chatClient
	model         string
	timeout       time.Duration
	defaultOrigin string
}

var _ domain.Extractor = (*LLM)(nil)

// New создаёт экстрактор.
func New(client chatClient, model string, timeout time.Duration, defaultOrigin string) *LLM {
	if model == "" {
		model = "openai/gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{client: client, model: model, timeout: timeout, defaultOrigin: defaultOrigin}
}

// Skip сообщает, что текст заведомо не заявка и модель звать не нужно.
func Skip(body string) bool {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) < MinLength {
		return true
	}
	return smallTalk.MatchString(body) || linkOnly.MatchString(body) || emojiOnly(body)
}

func emojiOnly(s string) bool {
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
		case r == 0x200D, r >= 0xFE00 && r <= 0xFE0F, r >= 0x1F3FB && r <= 0x1F3FF:
		default:
			return false
		}
	}
	return true
}

// Extract разбирает сообщение; contextDate задаёт «сегодня» для относительных дат.
func (l *LLM) Extract(ctx context.Context, body, senderName string, contextDate time.Time) (domain.Extraction, error) {
	if Skip(body) {
		return domain.NotARequest(nil), nil
	}
	if senderName == "" {
		senderName = "user"
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0.1,
		MaxTokens:   350,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt(contextDate, l.defaultOrigin)},
			{Role: openai.RoleUser, Content: fmt.Sprintf("Message from %s:\n%q", senderName, body)},
		},
	}
	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extractor: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Extraction{}, ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return domain.Extraction{}, ErrEmptyResponse
	}
	return Decode(content, l.defaultOrigin)
}

type payload struct {
	IsRequest     bool           `json:"isRequest"`
	Type          string         `json:"type"`
	Category      string         `json:"category"`
	Date          *string        `json:"date"`
	DateFuzzy     *bool          `json:"date_fuzzy"`
	PossibleDates []string       `json:"possible_dates"`
	Time          *string        `json:"ride_plan_time"`
	TimeFuzzy     *bool          `json:"time_fuzzy"`
	Origin        *string        `json:"origin"`
	Destination   *string        `json:"destination"`
	Details       map[string]any `json:"details"`
}

// Decode разбирает ответ модели: снимает markdown-обёртку и подставляет значения по умолчанию.
func Decode(content, defaultOrigin string) (domain.Extraction, error) {
	raw := content
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	if m := jsonObject.FindString(raw); m != "" {
		raw = m
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !p.IsRequest {
		return domain.NotARequest(json.RawMessage(raw)), nil
	}
	typ := domain.RequestType(strings.ToLower(strings.TrimSpace(p.Type)))
	if !typ.Valid() {
		return domain.NotARequest(json.RawMessage(raw)), nil
	}

	parsed := domain.ParsedRequest{
		Type:        typ,
		Category:    strings.ToLower(strings.TrimSpace(p.Category)),
		Date:        parseDate(p.Date),
		DateFuzzy:   p.DateFuzzy != nil && *p.DateFuzzy,
		TimeFuzzy:   p.TimeFuzzy == nil || *p.TimeFuzzy,
		Origin:      deref(p.Origin),
		Destination: deref(p.Destination),
		Details:     p.Details,
	}
	if parsed.Category == "" {
		parsed.Category = domain.CategoryRide
	}
	if p.Time != nil {
		parsed.Time = strings.TrimSpace(*p.Time)
	}
	for _, s := range p.PossibleDates {
		if d := parseDate(&s); d != nil {
			parsed.PossibleDates = append(parsed.PossibleDates, *d)
		}
	}
	if parsed.Category == domain.CategoryRide && parsed.Origin == "" {
		parsed.Origin = defaultOrigin
	}
	parsed = domain.NewParsedRequest(parsed)
	return domain.Extraction{Request: &parsed, Raw: json.RawMessage(raw)}, nil
}

func parseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	d, err := domain.ParseDate(strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func systemPrompt(today time.Time, defaultOrigin string) string {
	return fmt.Sprintf(promptTemplate, today.Format("Monday"), today.Format(domain.DateLayout), defaultOrigin)
}

const promptTemplate = `You are a message parser for a university ride-sharing community.
Analyze group chat messages and extract structured information.

IMPORTANT: Most messages are casual chat. Only extract data when someone is clearly:
- Looking for a ride or offering a ride
- Asking for help or offering help

For casual messages (greetings, jokes, replies, reactions, thank yous), return:
{"isRequest": false}

When you detect a valid request or offer, return:
{
  "isRequest": true,
  "type": "need" or "offer",
  "category": "ride",
  "date": "YYYY-MM-DD" or null,
  "date_fuzzy": boolean,
  "possible_dates": ["YYYY-MM-DD", ...],
  "ride_plan_time": "HH:MM" or null,
  "time_fuzzy": boolean,
  "origin": "location" or null,
  "destination": "location" or null,
  "details": {
    "seats": number or null,
    "gasContribution": string or null,
    "description": string
  }
}

Common patterns (all return isRequest: true):
- "anyone going to Houston?" -> need, ride
- "can drop 2 people to DFW" -> offer, ride
- "need ride to IAH Friday" -> need, ride
- "driving to Dallas, 3 spots" -> offer, ride
- "need help moving" -> need, help
- "can help with groceries" -> offer, help

Today is %s, %s. Resolve relative dates:
- "tomorrow" -> next day
- "Friday" -> the upcoming Friday
- "this weekend" -> upcoming Saturday
If the message contains BOTH a relative date AND an explicit date, ALWAYS use the explicit date.

DATE FUZZINESS:
- Single confirmed date -> date_fuzzy: false, possible_dates: []
- Flexible ("today or tomorrow", "Friday or Saturday") -> date_fuzzy: true, possible_dates: [...]
- No date at all -> date: null, date_fuzzy: false, possible_dates: []

TIME:
- Clearly stated -> ride_plan_time as 24h "HH:MM"
- Approximate ("around 3", "afternoon") -> time_fuzzy: true, ride_plan_time: best guess or null
- Not mentioned -> ride_plan_time: null, time_fuzzy: true

Normalize destinations:
- "Houston airport" / "IAH" / "Bush" -> "Houston IAH"
- "Hobby" -> "Houston Hobby"
- "DFW" / "Dallas airport" -> "Dallas DFW"

Default origin is "%s" if not specified and category is ride.

ONLY return valid JSON. No explanation, no markdown.`
