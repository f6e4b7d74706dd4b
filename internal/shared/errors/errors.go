// Package errors defines the control plane's error kinds and their
// transport-agnostic serialized form. Every surfaced failure is an *Error
// with a stable kind, an HTTP status code, an optional cause chain and an
// optional payload.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the stable identifier of an error class.
type Kind string

const (
	KindInvalidUsername          Kind = "invalid_username"
	KindInvalidCredentials       Kind = "invalid_credentials"
	KindUserExist                Kind = "user_exist"
	KindUserNotExist             Kind = "user_not_exist"
	KindUUIDOverlap              Kind = "uuid_overlap"
	KindUsersCapacity            Kind = "users_capacity"
	KindActiveUsersCapacity      Kind = "active_users_capacity"
	KindNoTrafficLimit           Kind = "no_traffic_limit"
	KindNoActivePlan             Kind = "no_active_plan"
	KindProxyTimeout             Kind = "proxy_timeout"
	KindVPNTimeout               Kind = "vpn_timeout"
	KindStateSynchronizerTimeout Kind = "state_synchronizer_timeout"
	KindSynchronization          Kind = "synchronization_error"
	KindUnexpected               Kind = "unexpected"
)

// SyncGroup is the message of a bare failure aggregate and the group
// label attached to its children when serialized.
const SyncGroup = "user synchronization"

// Error is the application error type.
type Error struct {
	Kind    Kind
	Message string
	Code    int // HTTP status code
	Causes  []error
	Payload any
}

func (e *Error) Error() string {
	if len(e.Causes) == 0 {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString(" due to:")
	for _, cause := range e.Causes {
		b.WriteString("\n\t- ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

// Unwrap exposes the cause chain to the errors package traversal.
func (e *Error) Unwrap() []error {
	return e.Causes
}

// Serialized is the wire shape of an error.
type Serialized struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Group   string       `json:"group,omitempty"`
	Code    int          `json:"code,omitempty"`
	Cause   []Serialized `json:"cause,omitempty"`
	Payload any          `json:"payload,omitempty"`
}

// Serialize returns the serializable form of the error. A bare
// aggregate expands into its children, each labeled with the group; an
// aggregate with a single child collapses into that child.
func (e *Error) Serialize() []Serialized {
	if e.isGroup() {
		if len(e.Causes) == 1 {
			return []Serialized{serializeOne(e.Causes[0], "")}
		}
		out := make([]Serialized, 0, len(e.Causes))
		for _, cause := range e.Causes {
			out = append(out, serializeOne(cause, e.Message))
		}
		return out
	}
	return []Serialized{serializeOne(e, "")}
}

// isGroup reports whether the error is a bare failure aggregate rather
// than a described synchronization error.
func (e *Error) isGroup() bool {
	return e.Kind == KindSynchronization && e.Message == SyncGroup
}

// SerializeAny serializes an arbitrary error, wrapping foreign errors as
// unexpected ones.
func SerializeAny(err error) []Serialized {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Serialize()
	}
	return NewUnexpected(err).Serialize()
}

func serializeOne(err error, group string) Serialized {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return Serialized{Type: string(KindUnexpected), Message: err.Error(), Group: group}
	}
	s := Serialized{
		Type:    string(appErr.Kind),
		Message: appErr.Message,
		Group:   group,
		Code:    appErr.Code,
		Payload: appErr.Payload,
	}
	for _, cause := range appErr.Causes {
		var causeErr *Error
		if errors.As(cause, &causeErr) && causeErr.isGroup() {
			for _, child := range causeErr.Causes {
				s.Cause = append(s.Cause, serializeOne(child, causeErr.Message))
			}
			continue
		}
		s.Cause = append(s.Cause, serializeOne(cause, ""))
	}
	return s
}

// KindOf returns the kind of the error, or KindUnexpected when the error
// is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnexpected
}

// Is reports whether any error in the chain or cause tree has the given kind.
func Is(err error, kind Kind) bool {
	for _, candidate := range flatten(err) {
		var appErr *Error
		if errors.As(candidate, &appErr) && appErr.Kind == kind {
			return true
		}
	}
	return false
}

// flatten expands an error and its whole cause tree into a flat list.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	out := []error{err}
	var appErr *Error
	if errors.As(err, &appErr) {
		for _, cause := range appErr.Causes {
			out = append(out, flatten(cause)...)
		}
	}
	return out
}

func quoted(name string) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf("'%s' ", name)
}

func NewInvalidUsername(username string) *Error {
	return &Error{
		Kind:    KindInvalidUsername,
		Message: fmt.Sprintf("Username %sis not valid", quoted(username)),
		Code:    http.StatusBadRequest,
	}
}

func NewInvalidCredentials() *Error {
	return &Error{
		Kind:    KindInvalidCredentials,
		Message: "User credentials is not valid",
		Code:    http.StatusBadRequest,
	}
}

func NewUserExist(username string) *Error {
	return &Error{
		Kind:    KindUserExist,
		Message: fmt.Sprintf("User %salready exists", quoted(username)),
		Code:    http.StatusBadRequest,
	}
}

func NewUserNotExist(username string) *Error {
	return &Error{
		Kind:    KindUserNotExist,
		Message: fmt.Sprintf("User %sdoes not exist", quoted(username)),
		Code:    http.StatusBadRequest,
	}
}

func NewUUIDOverlap() *Error {
	return &Error{
		Kind:    KindUUIDOverlap,
		Message: "Cannot create the user due to overlapped UUIDs",
		Code:    http.StatusInternalServerError,
	}
}

func NewUsersCapacity() *Error {
	return &Error{
		Kind:    KindUsersCapacity,
		Message: "Cannot create the user due to capacity limit",
		Code:    http.StatusBadRequest,
	}
}

func NewActiveUsersCapacity() *Error {
	return &Error{
		Kind:    KindActiveUsersCapacity,
		Message: "Cannot create the user due to active users capacity limit",
		Code:    http.StatusBadRequest,
	}
}

func NewNoTrafficLimit(username string) *Error {
	return &Error{
		Kind: KindNoTrafficLimit,
		Message: fmt.Sprintf(
			"Cannot add extra traffic %swhen plan has no traffic limit",
			quoted(username)),
		Code: http.StatusBadRequest,
	}
}

func NewNoActivePlan(username string) *Error {
	return &Error{
		Kind:    KindNoActivePlan,
		Message: fmt.Sprintf("User %sdoes not have an active plan", quoted(username)),
		Code:    http.StatusBadRequest,
	}
}

func NewProxyTimeout() *Error {
	return &Error{
		Kind:    KindProxyTimeout,
		Message: "Failed to communicate with the proxy server",
		Code:    http.StatusInternalServerError,
	}
}

func NewVPNTimeout() *Error {
	return &Error{
		Kind:    KindVPNTimeout,
		Message: "Failed to communicate with the VPN server",
		Code:    http.StatusInternalServerError,
	}
}

func NewStateSynchronizerTimeout() *Error {
	return &Error{
		Kind:    KindStateSynchronizerTimeout,
		Message: "Failed to communicate with the state synchronizer",
		Code:    http.StatusInternalServerError,
	}
}

// NewSynchronization builds the aggregate raised when one or more service
// transitions failed. Nested aggregates in causes are flattened so the
// serialized form stays one level deep.
func NewSynchronization(message string, causes []error, payload any) *Error {
	var flat []error
	for _, cause := range causes {
		var appErr *Error
		if errors.As(cause, &appErr) && appErr.Kind == KindSynchronization {
			flat = append(flat, appErr.Causes...)
			continue
		}
		flat = append(flat, cause)
	}
	return &Error{
		Kind:    KindSynchronization,
		Message: message,
		Code:    http.StatusInternalServerError,
		Causes:  flat,
		Payload: payload,
	}
}

func NewUnexpected(cause error) *Error {
	e := &Error{
		Kind:    KindUnexpected,
		Message: "Unexpected error happened",
		Code:    http.StatusInternalServerError,
	}
	if cause != nil {
		e.Causes = []error{cause}
	}
	return e
}
