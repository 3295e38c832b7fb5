package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Decode reads and closes the response body. 204 yields an empty object,
// 404 yields ErrNotFound, statuses above 299 yield an *AppError.
func Decode(resp *http.Response) (any, error) {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return map[string]any{}, nil
	case http.StatusNotFound:
		return nil, NotFoundError(requestURL(resp))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w in %s", ErrInvalidJSON, requestURL(resp))
	}
	if resp.StatusCode > 299 {
		var message string
		if m, ok := value.(map[string]any); ok {
			message, _ = m["error"].(string)
		}
		return nil, ResponseError(resp.StatusCode, message)
	}
	return value, nil
}

// DecodeObject decodes a response expected to hold a JSON object. A null
// payload yields a nil map.
func DecodeObject(resp *http.Response) (map[string]any, error) {
	value, err := Decode(resp)
	if err != nil || value == nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: object expected, got %T", ErrInvalidJSON, value)
	}
	return m, nil
}

// DecodeList decodes a response expected to hold a JSON array of objects.
func DecodeList(resp *http.Response) ([]map[string]any, error) {
	value, err := Decode(resp)
	if err != nil || value == nil {
		return nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: array expected, got %T", ErrInvalidJSON, value)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: array of objects expected, got %T", ErrInvalidJSON, item)
		}
		out = append(out, m)
	}
	return out, nil
}

// DecodeInto decodes a successful response into v.
func DecodeInto(resp *http.Response, v any) error {
	value, err := Decode(resp)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("re-encode response: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func requestURL(resp *http.Response) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return ""
}
