package server

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"datachat-agent/internal/relay"
	"datachat-agent/pkg/agent"
)

//go:embed thinking_phrases.md
var thinkingPhrases embed.FS

const maxUploadBytes = 32 << 20

// chatForm is the decoded multipart request shared by both chat routes.
type chatForm struct {
	messages    []agent.Message
	options     agent.Options
	fileContext string
}

// parseChatForm decodes the multipart body: a required messages JSON
// string, an optional options JSON string, and an optional file upload
// that is ingested into conversational context.
func (api *StreamingAPI) parseChatForm(r *http.Request) (chatForm, error) {
	var form chatForm

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return form, fmt.Errorf("invalid multipart form: %w", err)
	}

	messagesField := r.FormValue("messages")
	if messagesField == "" {
		return form, fmt.Errorf("messages field is required")
	}
	if err := json.Unmarshal([]byte(messagesField), &form.messages); err != nil {
		return form, fmt.Errorf("invalid messages JSON: %w", err)
	}

	if optionsField := r.FormValue("options"); optionsField != "" {
		if err := json.Unmarshal([]byte(optionsField), &form.options); err != nil {
			return form, fmt.Errorf("invalid options JSON: %w", err)
		}
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return form, fmt.Errorf("failed to read upload: %w", err)
		}
		content := api.ingestor.Ingest(r.Context(), data, header.Filename)
		form.fileContext = content.Text
	}

	return form, nil
}

func (api *StreamingAPI) sessionConfig(form chatForm) agent.Config {
	cfg := form.options.Resolve()
	cfg.FileContext = form.fileContext
	if api.config.MaxTurns > 0 {
		cfg.MaxTurns = api.config.MaxTurns
	}
	return cfg
}

// handleChat runs the conversation to completion and answers with one
// JSON object. Configuration and computation failures come back as text
// so the client conversation can continue.
func (api *StreamingAPI) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()[:8]

	form, err := api.parseChatForm(r)
	if err != nil {
		api.logger.Warnf("[API] chat %s: bad request: %v", requestID, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg := api.sessionConfig(form)
	api.logger.Infof("[API] chat %s: %d messages, model=%s", requestID, len(form.messages), cfg.Model)

	session, err := api.newSession(r.Context(), cfg)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"text": fmt.Sprintf("Server not configured: %v", err)})
		return
	}

	result, err := session.Invoke(r.Context(), form.messages, agent.NoopHooks{})
	if err != nil {
		api.logger.Errorf("[API] chat %s: invoke failed: %v", requestID, err)
		writeJSON(w, http.StatusOK, map[string]string{"text": fmt.Sprintf("Error: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": agent.ExtractText(result)})
}

// handleChatStream relays the conversation as SSE frames. All outcomes
// travel in-stream: the response is always 200 once headers are out.
func (api *StreamingAPI) handleChatStream(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()[:8]

	form, err := api.parseChatForm(r)
	if err != nil {
		api.logger.Warnf("[API] stream %s: bad request: %v", requestID, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg := api.sessionConfig(form)
	api.logger.Infof("[API] stream %s: %d messages, model=%s", requestID, len(form.messages), cfg.Model)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), api.config.StreamTimeout)
	defer cancel()

	rel := relay.New(api.logger)
	session, err := api.newSession(ctx, cfg)
	if err != nil {
		// No computation to run; the relay still shapes the failure
		// into the error-then-done frame sequence.
		configErr := fmt.Errorf("Server not configured: %v", err)
		rel.Start(func() error { return configErr })
	} else {
		rel.Start(func() error {
			_, err := session.Invoke(ctx, form.messages, rel)
			return err
		})
	}

	if err := rel.Stream(ctx, w); err != nil {
		api.logger.Infof("[API] stream %s: client disconnected: %v", requestID, err)
		return
	}
	api.logger.Infof("[API] stream %s: completed", requestID)
}

// handleThinking serves the bundled list of display phrases. A broken
// bundle degrades to one fallback phrase plus an error note.
func (api *StreamingAPI) handleThinking(w http.ResponseWriter, r *http.Request) {
	raw, err := thinkingPhrases.ReadFile("thinking_phrases.md")
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"phrases": []string{"Thinking…"},
			"error":   err.Error(),
		})
		return
	}

	var phrases []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			phrases = append(phrases, string(line))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"phrases": phrases})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
