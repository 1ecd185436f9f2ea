package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/finmesh/core"
)

// ErrEmptyResponse is returned when a generation ends without a final chunk.
var ErrEmptyResponse = errors.New("model returned no final response")

// Collect drains a generation and returns its final chunk. onPartial, when
// non-nil, receives every partial chunk in order.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error, onPartial func(Response)) (Response, error) {
	var final *Response
	var err error
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if onPartial != nil {
					onPartial(resp)
				}
				continue
			}
			r := resp
			final = &r
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil {
				err = e
			}
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if err != nil {
		return Response{}, err
	}
	if final == nil {
		return Response{}, ErrEmptyResponse
	}
	return *final, nil
}

// GenerateText runs a single non-streaming generation and returns its text.
func GenerateText(ctx context.Context, m Model, instructions, prompt string) (string, error) {
	respCh, errCh := m.Generate(ctx, Request{
		Instructions: instructions,
		Contents:     []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: prompt}}}},
	})
	resp, err := Collect(ctx, respCh, errCh, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content.Text()), nil
}

// GenerateObject asks for a JSON object and decodes it into out.
func GenerateObject(ctx context.Context, m Model, instructions, prompt string, out any) error {
	respCh, errCh := m.Generate(ctx, Request{
		Instructions:   instructions,
		Contents:       []core.Content{{Role: "user", Parts: []core.Part{core.TextPart{Text: prompt}}}},
		ResponseFormat: FormatJSONObject,
	})
	resp, err := Collect(ctx, respCh, errCh, nil)
	if err != nil {
		return err
	}
	raw := stripCodeFence(resp.Content.Text())
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model object: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ResponseText renders a function response as the text providers expect in
// a tool result message: the error when set, strings verbatim, anything else
// as JSON.
func ResponseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		b, _ := json.Marshal(map[string]string{"error": fr.Error})
		return string(b)
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response)
	}
	return string(b)
}
