package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	TTL         time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	MaxMessages int           `envconfig:"CONVERSATION_MAX_MESSAGES" default:"10"`
	MaxStored   int           `envconfig:"CONVERSATION_MAX_STORED" default:"100"`
	LockTTL     time.Duration `envconfig:"CONVERSATION_LOCK_TTL" default:"2m"`
	Tools       struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"4"`
	}
}

type DecisionModelConfig struct {
	Provider    string  `envconfig:"DECISION_PROVIDER" default:"gemini"`
	Model       string  `envconfig:"DECISION_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"DECISION_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"DECISION_TEMPERATURE" default:"0"`
}

type ResponseModelConfig struct {
	Model         string        `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens     int           `envconfig:"RESPONSE_MAX_TOKENS" default:"4096"`
	Temperature   float32       `envconfig:"RESPONSE_TEMPERATURE" default:"0"`
	Timeout       time.Duration `envconfig:"RESPONSE_TIMEOUT" default:"60s"`
	FormatTimeout time.Duration `envconfig:"RESPONSE_FORMAT_TIMEOUT" default:"45s"`
}

// ResolverConfig carries the intent resolution tuning values.
type ResolverConfig struct {
	TopK               int           `envconfig:"RESOLVER_TOP_K" default:"3"`
	FallbackBind       int           `envconfig:"RESOLVER_FALLBACK_BIND" default:"2"`
	SwitchThreshold    float64       `envconfig:"RESOLVER_SWITCH_THRESHOLD" default:"0.65"`
	MinToolScore       float64       `envconfig:"RESOLVER_MIN_TOOL_SCORE" default:"0.60"`
	TieBand            float64       `envconfig:"RESOLVER_TIE_BAND" default:"0.03"`
	DistanceDivisor    float64       `envconfig:"RESOLVER_DISTANCE_DIVISOR" default:"1.5"`
	ClassifyTimeout    time.Duration `envconfig:"RESOLVER_CLASSIFY_TIMEOUT" default:"20s"`
	HistoryTokenBudget int           `envconfig:"RESOLVER_HISTORY_TOKEN_BUDGET" default:"1500"`
}

type EmbeddingConfig struct {
	Provider string `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`
	Model    string `envconfig:"EMBEDDING_MODEL" default:"nomic-embed-text"`
}

type PromptConfig struct {
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"Travel Sense"`
	BrandName     string `envconfig:"PROMPT_BRAND_NAME" default:"TBO"`
	TimeZoneLabel string `envconfig:"PROMPT_TIMEZONE_LABEL" default:"IST"`
	TimeZoneShift string `envconfig:"PROMPT_TIMEZONE_OFFSET" default:"+05:30"`
}
