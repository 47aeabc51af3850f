package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// State is the local vocabulary for match state. NormalizeState is the only
// place raw collaborator strings are mapped onto it.
type State string

const (
	StateProposed State = "proposed"
	StateMatched  State = "matched"
	StateDeclined State = "declined"
	StateUnknown  State = "unknown"
)

type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// ParseAction accepts accept, decline and reject (an alias for decline).
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept":
		return ActionAccept, nil
	case "decline", "reject":
		return ActionDecline, nil
	}
	return "", fmt.Errorf("unknown confirm action %q", s)
}

type ResourceBrief struct {
	ID           string `json:"resource_id"`
	Title        string `json:"title,omitempty"`
	ItemName     string `json:"item_name,omitempty"`
	Description  string `json:"description,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Value        *int64 `json:"value,omitempty"`
	Username     string `json:"username,omitempty"`
	ItemType     string `json:"item_type,omitempty"`
	MaterialType string `json:"material_type,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	Status       string `json:"status,omitempty"`
}

type RequestBrief struct {
	ID                string `json:"request_id"`
	Title             string `json:"title,omitempty"`
	ItemName          string `json:"item_name,omitempty"`
	Amount            string `json:"amount,omitempty"`
	Value             *int64 `json:"value,omitempty"`
	Description       string `json:"description,omitempty"`
	Username          string `json:"username,omitempty"`
	ItemType          string `json:"item_type,omitempty"`
	MaterialType      string `json:"material_type,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	Status            string `json:"status,omitempty"`
	IsAutoWritten     bool   `json:"is_auto_written"`
	MatchedResourceID string `json:"-"`
}

// MatchRecord is one match as reported by the matching service. Status keeps
// the raw (lowercased) string; use State() for the local vocabulary.
type MatchRecord struct {
	Status   string
	Resource ResourceBrief
	Request  RequestBrief
}

func (m *MatchRecord) State() State {
	if m == nil {
		return StateUnknown
	}
	return NormalizeState(m.Status)
}

type ConfirmResult struct {
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

type ResourceFilter struct {
	MaterialType string
	Status       string
	Limit        int
	Offset       int
}

// Client is read/write access to the remote matching service.
type Client interface {
	GetByResource(ctx context.Context, resourceID string) (*MatchRecord, error)
	GetByRequest(ctx context.Context, requestID string) (*MatchRecord, error)
	GetHistory(ctx context.Context, username string) ([]MatchRecord, error)
	Confirm(ctx context.Context, resourceID, requestID string, action Action) (*ConfirmResult, error)
	ManualMatch(ctx context.Context, resourceID string, amount float64, username string) (*ConfirmResult, error)
	ListResourcesOfUser(ctx context.Context, username string) ([]ResourceBrief, error)
	ListResources(ctx context.Context, filter ResourceFilter) ([]ResourceBrief, error)
	ListRequestsOfUser(ctx context.Context, username string) ([]RequestBrief, error)
	ListRequests(ctx context.Context, status string) ([]RequestBrief, error)
}

var ErrMalformed = errors.New("malformed matching service response")

// ExternalServiceError covers an unreachable matching service, a non-2xx
// answer, and a body that could not be shaped into the expected DTO.
type ExternalServiceError struct {
	Op         string
	StatusCode int
	Malformed  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.Malformed:
		return fmt.Sprintf("matching %s: malformed response: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("matching %s: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("matching %s: %v", e.Op, e.Err)
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
