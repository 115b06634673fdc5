package utils

import (
	"log/slog"
	"os"
	"regexp"
)

var (
	queryKeyPattern = regexp.MustCompile(`([?&])(api[_\-]?[kK]ey|key|token)=([^&\s"]+)`)
	bearerPattern   = regexp.MustCompile(`Bearer\s+([A-Za-z0-9_\-\.]+)`)
	xAPIKeyPattern  = regexp.MustCompile(`(?i)(x-api-key:\s*)([^\s]+)`)
	botTokenPattern = regexp.MustCompile(`/bot([0-9]+):([A-Za-z0-9_\-]+)`)
)

// MaskSensitiveData masks API keys and bot tokens in strings so they can be
// logged safely. Telegram file URLs carry the bot token in the path, Datalab
// requests carry it in the X-Api-Key header.
func MaskSensitiveData(s string) string {
	if s == "" {
		return s
	}

	s = queryKeyPattern.ReplaceAllString(s, `${1}${2}=***MASKED***`)
	s = bearerPattern.ReplaceAllString(s, `Bearer ***MASKED***`)
	s = xAPIKeyPattern.ReplaceAllString(s, `${1}***MASKED***`)
	s = botTokenPattern.ReplaceAllString(s, `/bot${1}:***MASKED***`)

	return s
}

// MaskSecret hides all but the last four characters of a secret value.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "***MASKED***"
	}
	return "***MASKED***" + secret[len(secret)-4:]
}

// MaskSensitiveError wraps an error and masks sensitive data when the error is converted to string
func MaskSensitiveError(err error) error {
	if err == nil {
		return nil
	}
	return &maskedError{err: err}
}

type maskedError struct {
	err error
}

func (e *maskedError) Error() string {
	return MaskSensitiveData(e.err.Error())
}

func (e *maskedError) Unwrap() error {
	return e.err
}

func ExitOnError(msg string, err error) {
	slog.Error(msg, "err", MaskSensitiveError(err))
	os.Exit(1)
}
