package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gowebpki/jcs"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("event_source", validateEventSource)
}

func validateEventSource(fl validator.FieldLevel) bool {
	return model.EventSource(fl.Field().String()).IsValid()
}

// Caller is the identity a request arrives with.
type Caller struct {
	UserID    string
	IsService bool
}

// ActingFor returns the user a request for requested should run as. Users may
// only act for themselves; service calls name the user explicitly or via header.
func (c Caller) ActingFor(requested string) (string, error) {
	switch {
	case c.IsService:
		if requested != "" {
			return requested, nil
		}
		if c.UserID != "" {
			return c.UserID, nil
		}
		return "", common.NewValidationError("user_id", "is required for service calls")
	case c.UserID == "":
		return "", common.ErrUnauthenticated
	case requested != "" && requested != c.UserID:
		return "", fmt.Errorf("user %s acting for %s: %w", c.UserID, requested, common.ErrForbidden)
	default:
		return c.UserID, nil
	}
}

// IngestRequest is one event submitted for admission.
type IngestRequest struct {
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
	Payload    map[string]any    `json:"payload" validate:"required"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	CompanyID  string            `json:"company_id" validate:"required,max=128"`
	Source     model.EventSource `json:"source" validate:"required,event_source"`
	EventType  string            `json:"event_type" validate:"required,max=128"`
	ExternalID string            `json:"external_id,omitempty" validate:"max=512"`
}

// Validate checks the request shape.
func (r *IngestRequest) Validate() error {
	return translate(validate.Struct(r))
}

// Key derives the idempotency key: hex SHA-256 over company, source, event type
// and the caller's external id, or the canonical JSON of the payload without one.
func (r *IngestRequest) Key() (string, error) {
	token := r.ExternalID
	if token == "" {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
		canonical, err := jcs.Transform(raw)
		if err != nil {
			return "", fmt.Errorf("failed to canonicalize payload: %w", err)
		}
		token = string(canonical)
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		r.CompanyID, string(r.Source), r.EventType, token,
	}, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// RouteRequest is the /route contract: admission keyed by the user's company.
type RouteRequest struct {
	Payload    map[string]any    `json:"payload" validate:"required"`
	Source     model.EventSource `json:"source" validate:"required,event_source"`
	EventType  string            `json:"event_type" validate:"required,max=128"`
	ExternalID string            `json:"external_id,omitempty" validate:"max=512"`
	UserID     string            `json:"user_id,omitempty"`
}

// Validate checks the request shape.
func (r *RouteRequest) Validate() error {
	return translate(validate.Struct(r))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describe(fe)
	}
	return &common.ValidationError{Details: details}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "event_source":
		names := make([]string, len(model.EventSources))
		for i, s := range model.EventSources {
			names[i] = string(s)
		}
		return fmt.Sprintf("must be one of %s", strings.Join(names, ", "))
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
