package constants

// VAD providers
const (
	VadTypeEnergy = "energy"
)

// LLM backend providers
const (
	LlmTypeOpenai = "openai"
	LlmTypeOllama = "ollama"
)

// TTS providers
const (
	TtsTypeOpenai    = "openai"
	TtsTypeWebsocket = "websocket"
)

// Backend roles for the completion engine failover policy.
const (
	BackendFast = "fast"
	BackendSlow = "slow"
)
