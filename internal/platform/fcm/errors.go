package fcm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// unregisteredPhrases are matched against unstructured error text only.
var unregisteredPhrases = []string{
	"requested entity was not found",
	"not a valid fcm registration token",
	"unregistered",
}

// ProviderError describes a non-success response from the FCM send API.
type ProviderError struct {
	HTTPStatus int
	// Status is the google.rpc status name, e.g. NOT_FOUND.
	Status string
	// Code is the FCM-specific errorCode from the error details, e.g. UNREGISTERED.
	Code    string
	Message string
	// Structured is false when the body was not a google API error envelope.
	Structured bool
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.HTTPStatus)
	}
	if e.Code != "" {
		return fmt.Sprintf("FCM error %d (%s): %s", e.HTTPStatus, e.Code, msg)
	}
	return fmt.Sprintf("FCM error %d: %s", e.HTTPStatus, msg)
}

// Unregistered reports whether the token the request targeted is permanently dead.
// A 404 or an UNREGISTERED/NOT_FOUND code marks the token dead. Any other status or
// errorCode in the envelope suppresses the text heuristics, even if the message reads
// "Requested entity was not found"; the phrases are only consulted without codes.
func (e *ProviderError) Unregistered() bool {
	if e.HTTPStatus == http.StatusNotFound {
		return true
	}
	if e.Code == "UNREGISTERED" || e.Status == "NOT_FOUND" {
		return true
	}
	if e.Code != "" || e.Status != "" {
		return false
	}
	return matchesUnregisteredText(e.Message)
}

type apiErrorEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// ParseProviderError turns a failed send response into a ProviderError, preferring the
// structured google API error envelope and falling back to the raw body text.
func ParseProviderError(httpStatus int, body []byte) *ProviderError {
	if pe := parseStructuredError(httpStatus, body); pe != nil {
		return pe
	}
	return parseTextError(httpStatus, body)
}

func parseStructuredError(httpStatus int, body []byte) *ProviderError {
	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return nil
	}

	pe := &ProviderError{
		HTTPStatus: httpStatus,
		Status:     env.Error.Status,
		Message:    strings.TrimSpace(env.Error.Message),
		Structured: true,
	}
	for _, d := range env.Error.Details {
		if d.ErrorCode != "" {
			pe.Code = d.ErrorCode
			break
		}
	}
	return pe
}

func parseTextError(httpStatus int, body []byte) *ProviderError {
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return &ProviderError{HTTPStatus: httpStatus, Message: text}
}

func matchesUnregisteredText(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range unregisteredPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
