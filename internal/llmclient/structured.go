package llmclient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// jsonBlockRegex extracts the body of a fenced markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// ExtractJSON returns the JSON payload of a model response, unwrapping a
// fenced block or slicing from the first opening bracket to the matching
// last closing one.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	first := strings.IndexAny(response, "{[")
	if first == -1 {
		return response
	}
	closer := "}"
	if response[first] == '[' {
		closer = "]"
	}
	last := strings.LastIndex(response, closer)
	if last > first {
		return response[first : last+1]
	}
	return response
}

// GenerateJSON requests a JSON response and decodes it into out. When
// req.Options.ResponseSchema is set the provider constrains the output.
func GenerateJSON(ctx context.Context, client schemas.LLMClient, req schemas.GenerationRequest, out any) error {
	req.Options.ForceJSONFormat = true
	raw, err := client.Generate(ctx, req)
	if err != nil {
		return err
	}

	payload := ExtractJSON(raw)
	if payload == "" {
		return &DecodeError{Raw: raw, Err: errors.New("could not find any JSON in the LLM response")}
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return &DecodeError{Raw: raw, Err: fmt.Errorf("failed to unmarshal extracted JSON: %w", err)}
	}
	return nil
}

// DecodeError reports a response that arrived but could not be decoded.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err stems from an undecodable response.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
