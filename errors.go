/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, href, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=%q>%s</a></body></html>", href, body))

	return htmlBody.String()
}

// Kind classifies game errors so the request surface can map them to
// HTTP status codes without inspecting message text.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindIllegalState        Kind = "illegal_state"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindInsufficientPlayers Kind = "insufficient_players"
	KindNotReady            Kind = "not_ready"
)

func (k Kind) httpStatus() int {
	switch k {
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// GameError is a rejected game action. Operations either apply fully or
// return one of these with no state change.
type GameError struct {
	Kind    Kind
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

func gameError(kind Kind, format string, args ...any) *GameError {
	return &GameError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// errKind digs the Kind out of an error chain, defaulting unknown errors
// to invalid input so they surface as 400s.
func errKind(err error) Kind {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInvalidInput
}
