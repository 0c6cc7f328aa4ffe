package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/prompt"
)

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatRequest is the payload for /v1/chat/completions.
type chatRequest struct {
	Model         string         `json:"model,omitempty"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature"`
	TopP          *float64       `json:"top_p,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// openAIStreamResponse is one SSE chunk.
type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// toChatMessages converts a conversation; images become base64 data URLs.
func toChatMessages(conv prompt.Conversation) []chatMessage {
	out := make([]chatMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role == prompt.RoleSystem {
			out = append(out, chatMessage{Role: string(m.Role), Content: m.Text()})
			continue
		}
		parts := make([]contentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case prompt.PartImage:
				url := "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Image)
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
			case prompt.PartText:
				parts = append(parts, contentPart{Type: "text", Text: p.Text})
			}
		}
		out = append(out, chatMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

func newChatRequest(model string, conv prompt.Conversation, p Params) chatRequest {
	req := chatRequest{
		Model:         model,
		Messages:      toChatMessages(conv),
		MaxTokens:     p.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	// sampling only with a positive temperature; zero is greedy
	if p.Temperature > 0 {
		req.Temperature = p.Temperature
		if p.TopP > 0 && p.TopP <= 1 {
			top := p.TopP
			req.TopP = &top
		}
	}
	return req
}

// streamChat posts a streaming chat completion and relays delta content.
// The response body is closed on every path.
func streamChat(ctx context.Context, c *http.Client, log zerolog.Logger, baseURL, model, presetID string, conv prompt.Conversation, p Params, onFragment func(string) error) (Result, error) {
	body, err := json.Marshal(newChatRequest(model, conv, p))
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, errs.Transient("generate", presetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("runtime http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
		if resp.StatusCode >= 500 {
			return Result{}, errs.Transient("generate", presetID, cause)
		}
		return Result{}, errs.New(errs.KindStateViolation, "generate", presetID, cause)
	}

	var text strings.Builder
	var res Result
	r := bufio.NewReader(resp.Body)
	for {
		line, readErr := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg openAIStreamResponse
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				log.Warn().Err(err).Str("event", "sse_decode_failed").Str("preset", presetID).
					Int("bytes", len(data)).Msg("skipping malformed stream event")
			} else {
				if msg.Usage != nil {
					res.Usage = TokenUsage{PromptTokens: msg.Usage.PromptTokens, CompletionTokens: msg.Usage.CompletionTokens, TotalTokens: msg.Usage.TotalTokens}
				}
				if len(msg.Choices) > 0 {
					if frag := msg.Choices[0].Delta.Content; frag != "" {
						if ctx.Err() != nil {
							res.Text = text.String()
							return res, ctx.Err()
						}
						text.WriteString(frag)
						if err := onFragment(frag); err != nil {
							res.Text = text.String()
							return res, err
						}
					}
					if fr := msg.Choices[0].FinishReason; fr != nil && *fr != "" {
						res.FinishReason = *fr
					}
				}
			}
		}
		if readErr != nil {
			res.Text = text.String()
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if errors.Is(readErr, io.EOF) {
				return res, nil
			}
			return res, errs.Transient("generate", presetID, readErr)
		}
	}
	res.Text = text.String()
	return res, nil
}
