// Package health probes the remote services the assistant depends on:
// transcription, the query engine and speech synthesis.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"thara/voice/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "ok"
		if !c.OK {
			mark = "fail"
		}
		s += fmt.Sprintf("  [%s] %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all remote checks and returns the combined status.
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		checkSTT(ctx, cfg),
		checkQuery(ctx, cfg),
		checkTTS(ctx, cfg),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}
	return HealthStatus{OK: allOK, Checks: checks, CheckedAt: time.Now().UTC()}
}

func checkSTT(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "stt"}

	if cfg.STT.APIKey == "" {
		result.Error = "STT_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.STT.BaseURL+"/models", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+cfg.STT.APIKey)

	return finish(result, start, req, http.StatusUnauthorized, "invalid API key")
}

func checkQuery(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "query"}

	if cfg.Query.BaseURL == "" {
		result.Error = "QUERY_BASE_URL not set"
		result.Latency = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Query.BaseURL+"/health", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	if cfg.Query.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Query.APIKey)
	}

	return finish(result, start, req, http.StatusUnauthorized, "invalid API key")
}

func checkTTS(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "tts"}

	if cfg.TTS.APIKey == "" || cfg.TTS.VoiceID == "" {
		result.Error = "TTS_API_KEY or TTS_VOICE_ID not set"
		result.Latency = time.Since(start)
		return result
	}

	url := fmt.Sprintf("%s/voices/%s", cfg.TTS.BaseURL, cfg.TTS.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("xi-api-key", cfg.TTS.APIKey)

	result = finish(result, start, req, http.StatusUnauthorized, "invalid API key")
	if !result.OK && result.Error == fmt.Sprintf("unexpected status %d", http.StatusNotFound) {
		result.Error = fmt.Sprintf("voice ID %q not found", cfg.TTS.VoiceID)
	}
	return result
}

func finish(result CheckResult, start time.Time, req *http.Request, authStatus int, authMsg string) CheckResult {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode == authStatus {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("%s (%d): %s", authMsg, resp.StatusCode, string(body))
		return result
	}
	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}
	io.Copy(io.Discard, resp.Body)
	result.OK = true
	return result
}
