package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Capture struct {
		MaxDuration time.Duration
	}
	VAD struct {
		SilenceThreshold float64
		SilenceDuration  time.Duration
		MinSpeech        time.Duration
		SampleInterval   time.Duration
	}
	Turn struct {
		HandsFree       bool
		VoiceReplies    bool
		ResumeDelay     time.Duration
		ToggleCooldown  time.Duration
		FarewellPhrases []string
		FarewellReplies []string
	}
	Gateway struct {
		TokenSecret   string
		TokenTTL      time.Duration
		TokenSkewSecs int
	}
	STT struct {
		BaseURL  string
		APIKey   string
		Model    string
		Language string
	}
	Query struct {
		BaseURL string
		APIKey  string
	}
	TTS struct {
		BaseURL string
		APIKey  string
		VoiceID string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("capture.max_duration_sec", 30)

	v.SetDefault("vad.silence_threshold", 12.0)
	v.SetDefault("vad.silence_duration_ms", 1500)
	v.SetDefault("vad.min_speech_ms", 1000)
	v.SetDefault("vad.sample_interval_ms", 100)

	v.SetDefault("turn.hands_free", true)
	v.SetDefault("turn.voice_replies", true)
	v.SetDefault("turn.resume_delay_ms", 300)
	v.SetDefault("turn.toggle_cooldown_ms", 400)
	v.SetDefault("turn.farewell_phrases", "bye,goodbye,thanks bye,thank you bye,that is all,see you,selesai,terima kasih")
	v.SetDefault("turn.farewell_replies", "Goodbye! Happy to help anytime.;Talk to you later!;Glad I could help. Bye!")

	v.SetDefault("gateway.token_ttl_min", 60)
	v.SetDefault("gateway.token_skew_secs", 30)

	v.SetDefault("stt.base_url", "https://api.openai.com/v1")
	v.SetDefault("stt.model", "whisper-1")

	v.SetDefault("tts.base_url", "https://api.elevenlabs.io/v1")
	v.SetDefault("tts.voice_id", "21m00Tcm4TlvDq8ikWAM")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("capture.max_duration_sec", "CAPTURE_MAX_DURATION_SEC")

	v.BindEnv("vad.silence_threshold", "VAD_SILENCE_THRESHOLD")
	v.BindEnv("vad.silence_duration_ms", "VAD_SILENCE_DURATION_MS")
	v.BindEnv("vad.min_speech_ms", "VAD_MIN_SPEECH_MS")
	v.BindEnv("vad.sample_interval_ms", "VAD_SAMPLE_INTERVAL_MS")

	v.BindEnv("turn.hands_free", "TURN_HANDS_FREE")
	v.BindEnv("turn.voice_replies", "TURN_VOICE_REPLIES")
	v.BindEnv("turn.resume_delay_ms", "TURN_RESUME_DELAY_MS")
	v.BindEnv("turn.toggle_cooldown_ms", "TURN_TOGGLE_COOLDOWN_MS")
	v.BindEnv("turn.farewell_phrases", "TURN_FAREWELL_PHRASES")
	v.BindEnv("turn.farewell_replies", "TURN_FAREWELL_REPLIES")

	v.BindEnv("gateway.token_secret", "GATEWAY_TOKEN_SECRET")
	v.BindEnv("gateway.token_ttl_min", "GATEWAY_TOKEN_TTL_MIN")
	v.BindEnv("gateway.token_skew_secs", "GATEWAY_TOKEN_SKEW_SECS")

	v.BindEnv("stt.base_url", "STT_BASE_URL")
	v.BindEnv("stt.api_key", "STT_API_KEY")
	v.BindEnv("stt.model", "STT_MODEL")
	v.BindEnv("stt.language", "STT_LANGUAGE")

	v.BindEnv("query.base_url", "QUERY_BASE_URL")
	v.BindEnv("query.api_key", "QUERY_API_KEY")

	v.BindEnv("tts.base_url", "TTS_BASE_URL")
	v.BindEnv("tts.api_key", "TTS_API_KEY")
	v.BindEnv("tts.voice_id", "TTS_VOICE_ID")

	var c Config
	c.Server.Port = v.GetString("server.port")
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Capture.MaxDuration = time.Duration(v.GetInt("capture.max_duration_sec")) * time.Second

	c.VAD.SilenceThreshold = v.GetFloat64("vad.silence_threshold")
	c.VAD.SilenceDuration = time.Duration(v.GetInt("vad.silence_duration_ms")) * time.Millisecond
	c.VAD.MinSpeech = time.Duration(v.GetInt("vad.min_speech_ms")) * time.Millisecond
	c.VAD.SampleInterval = time.Duration(v.GetInt("vad.sample_interval_ms")) * time.Millisecond

	c.Turn.HandsFree = v.GetBool("turn.hands_free")
	c.Turn.VoiceReplies = v.GetBool("turn.voice_replies")
	c.Turn.ResumeDelay = time.Duration(v.GetInt("turn.resume_delay_ms")) * time.Millisecond
	c.Turn.ToggleCooldown = time.Duration(v.GetInt("turn.toggle_cooldown_ms")) * time.Millisecond
	c.Turn.FarewellPhrases = splitList(v.GetString("turn.farewell_phrases"), ",")
	c.Turn.FarewellReplies = splitList(v.GetString("turn.farewell_replies"), ";")

	c.Gateway.TokenSecret = v.GetString("gateway.token_secret")
	c.Gateway.TokenTTL = time.Duration(v.GetInt("gateway.token_ttl_min")) * time.Minute
	c.Gateway.TokenSkewSecs = v.GetInt("gateway.token_skew_secs")

	c.STT.BaseURL = v.GetString("stt.base_url")
	c.STT.APIKey = v.GetString("stt.api_key")
	c.STT.Model = v.GetString("stt.model")
	c.STT.Language = v.GetString("stt.language")

	c.Query.BaseURL = v.GetString("query.base_url")
	c.Query.APIKey = v.GetString("query.api_key")

	c.TTS.BaseURL = v.GetString("tts.base_url")
	c.TTS.APIKey = v.GetString("tts.api_key")
	c.TTS.VoiceID = v.GetString("tts.voice_id")

	return c
}

// splitList splits a delimited env value, dropping empty entries.
// Replies use ";" so a reply may itself contain commas.
func splitList(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
