// Package apierror carries HTTP status codes through error values, both for
// errors read from the upstream API and for errors written by this service.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is an error with an HTTP status code attached.
type Error struct {
	err    error
	status int
}

// Message is the JSON body written for errors: {"message": ..., "status": ...}.
type Message struct {
	Message string `json:"message,omitempty"`
	Status  int    `json:"status,omitempty"`
}

var serverError = []byte(`{"message":"Internal Server Error","status":500}`)

func New(err error, status int) *Error {
	return &Error{
		err:    err,
		status: status,
	}
}

// FromResponse builds an error from a response status and body. GitHub style
// bodies of the form {"message": "..."} are reduced to their message.
func FromResponse(status int, body []byte) error {
	var err error
	text := strings.TrimSpace(string(body))
	var msg Message
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		text = msg.Message
	}
	if text != "" {
		err = errors.New(text)
	}
	if status == 0 {
		return err
	}
	return New(err, status)
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.status == 0 {
		return ""
	}
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int {
	return e.status
}

func (e *Error) Unwrap() error {
	return e.err
}

// StatusOf returns the status carried by err, or fallback if there is none.
func StatusOf(err error, fallback int) int {
	var apierr *Error
	if errors.As(err, &apierr) && apierr.status != 0 {
		return apierr.status
	}
	return fallback
}

// EncodeError renders err as a JSON Message.
func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}

	e := Message{
		Message: err.Error(),
		Status:  StatusOf(err, 0),
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return serverError
	}
	return data
}

// DecodeError is the inverse of EncodeError.
func DecodeError(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var e Message
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("cannot decode error message: %s", err)
	}

	err := errors.New(e.Message)
	if e.Status == 0 {
		return err
	}
	return New(err, e.Status)
}
