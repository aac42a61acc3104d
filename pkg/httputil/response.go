// Package httputil provides HTTP response utilities for the envelope shape the
// application's clients expect: JSON bodies of the form {"success":bool,"message":...}
// for API and XHR callers, and rendered HTML error pages for browser navigation.
package httputil

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
)

// Envelope is the standard JSON response shape
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Field   string      `json:"field,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope with optional data
func WriteSuccess(w http.ResponseWriter, message string, data interface{}) error {
	return WriteJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// WriteCreated writes a 201 envelope with data
func WriteCreated(w http.ResponseWriter, message string, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

// WriteError writes a failure envelope with the given status code
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{Success: false, Message: message}) //nolint:errcheck
}

// WriteValidationError writes a 400 failure envelope with a field-level message
func WriteValidationError(w http.ResponseWriter, field, message string) {
	WriteJSON(w, http.StatusBadRequest, Envelope{Success: false, Message: message, Field: field}) //nolint:errcheck
}

// WriteConflict writes a 409 failure envelope
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message)
}

// WriteNotFound writes a 404 failure envelope
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteUnauthorized writes a 401 failure envelope
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteInternalError writes a 500 failure envelope
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// WantsJSON reports whether the request expects a JSON response rather than a
// rendered page. API clients signal this via the Accept header, an XHR marker
// header, or a JSON request body.
func WantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

var forbiddenPage = template.Must(template.New("403").Parse(`<!DOCTYPE html>
<html lang="bn">
<head><meta charset="utf-8"><title>অনুমতি নেই</title></head>
<body>
<h1>403 &mdash; অনুমতি নেই</h1>
<p>{{.Message}}</p>
<p><a href="{{.RedirectURL}}">ফিরে যান</a></p>
</body>
</html>
`))

// WriteForbidden responds to a denied request. JSON callers receive the
// standard failure envelope; browser navigation receives a rendered 403 page
// with a redirect-back link to the referrer (or home).
func WriteForbidden(w http.ResponseWriter, r *http.Request, message string) {
	if WantsJSON(r) {
		WriteError(w, http.StatusForbidden, message)
		return
	}

	redirectURL := r.Referer()
	if redirectURL == "" {
		redirectURL = "/"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	err := forbiddenPage.Execute(w, struct {
		Message     string
		RedirectURL string
	}{Message: message, RedirectURL: redirectURL})
	if err != nil {
		// Render failure falls back to the JSON envelope.
		WriteError(w, http.StatusForbidden, message)
	}
}
