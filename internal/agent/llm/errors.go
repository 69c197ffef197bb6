package llm

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

var quotaPattern = regexp.MustCompile(`(?i)\b429\b|resource[_ ]exhausted|quota|rate[ -]?limit|too many requests`)

// IsQuotaError reports whether err is a rate-limit or quota failure from the
// model provider. Only these failures trigger credential rotation.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return isQuotaAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return isQuotaAPIError(*apiErrPtr)
	}

	return quotaPattern.MatchString(err.Error())
}

func isQuotaAPIError(e genai.APIError) bool {
	return e.Code == http.StatusTooManyRequests || strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED")
}
