package llm

import (
	"errors"
	"fmt"
	"net/http"

	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// ErrRateLimited marks provider throttling. Callers may retry after backoff.
var ErrRateLimited = errors.New("llm: rate limited")

// ProviderError carries the provider-level detail of a failed completion.
type ProviderError struct {
	Provider  string
	Operation string
	Status    int
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed (%s): %s", e.Provider, e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// isRateLimited reports whether err is a provider throttling condition:
// HTTP 429 or a throttling error code.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

// wrapBedrockError classifies an AWS SDK error into a ProviderError,
// joining ErrRateLimited for throttling so errors.Is works on the chain.
func wrapBedrockError(operation string, err error) error {
	pe := &ProviderError{
		Provider:  "bedrock",
		Operation: operation,
		Err:       err,
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
		pe.Message = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		pe.Status = respErr.HTTPStatusCode()
	}

	if isRateLimited(err) {
		pe.Status = http.StatusTooManyRequests
		pe.Retryable = true
		return errors.Join(ErrRateLimited, pe)
	}

	switch {
	case pe.Status == http.StatusBadRequest:
		// invalid request, not retryable
	case pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden:
		// auth, not retryable
	case pe.Status >= http.StatusInternalServerError:
		pe.Retryable = true
	}
	return pe
}
