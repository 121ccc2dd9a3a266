package provider

import (
	"errors"
	"net/http"
	"strings"

	"relaybot/internal/domain"

	openaigo "github.com/openai/openai-go/v3"
	openai "github.com/sashabaranov/go-openai"
)

// Errors that carried an HTTP response become *domain.ResponseError; anything
// else (dial failures, timeouts, cancellation) is returned untouched so callers
// see the raw message. The body detail is the API's error.message when the
// response is an OpenAI style error document, and the raw response body
// otherwise.

func mapAzureError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &domain.ResponseError{
			StatusCode: apiErr.HTTPStatusCode,
			Body:       firstNonEmpty(apiErr.Message, apiErr.HTTPStatus),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := strings.TrimSpace(string(reqErr.Body))
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &domain.ResponseError{
			StatusCode: reqErr.HTTPStatusCode,
			Body:       firstNonEmpty(body, reqErr.HTTPStatus),
		}
	}
	return err
}

func mapOpenAIError(err error) error {
	var apiErr *openaigo.Error
	if errors.As(err, &apiErr) {
		return &domain.ResponseError{
			StatusCode: apiErr.StatusCode,
			Body:       firstNonEmpty(apiErr.Message, apiErr.RawJSON(), http.StatusText(apiErr.StatusCode)),
		}
	}
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
