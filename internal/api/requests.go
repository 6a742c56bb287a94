package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	verrors "github.com/systmms/secretvault/internal/errors"
)

// Action names accepted in the request body's "action" field.
const (
	ActionList            = "list"
	ActionSetMasterKey    = "set_master_key"
	ActionRotateMasterKey = "rotate_master_key"
	ActionUpsertSecret    = "upsert_secret"
	ActionGet             = "get"
	ActionReveal          = "reveal"
	ActionSet             = "set"
	ActionClear           = "clear"
)

// Request is one decoded action. Each action has its own concrete type.
type Request interface {
	Action() string
	validate() error
	// secrets lists request values that must never appear in logs.
	secrets() []string
}

type envelope struct {
	Kind string `json:"action"`
}

type ListRequest struct {
	envelope
}

type SetMasterKeyRequest struct {
	envelope
	MasterKey string `json:"master_key"`
}

type RotateMasterKeyRequest struct {
	envelope
	OldMasterKey string `json:"old_master_key"`
	NewMasterKey string `json:"new_master_key"`
}

type UpsertSecretRequest struct {
	envelope
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// SecretRef optionally addresses a record. Both fields empty selects the
// metered key.
type SecretRef struct {
	Provider string `json:"provider,omitempty"`
	Name     string `json:"name,omitempty"`
}

func (r SecretRef) validate() error {
	if (r.Provider == "") != (r.Name == "") {
		return verrors.Validation("provider and name must be given together")
	}
	return nil
}

type GetRequest struct {
	envelope
	SecretRef
}

type RevealRequest struct {
	envelope
	SecretRef
}

type SetRequest struct {
	envelope
	APIKey string `json:"api_key"`
}

type ClearRequest struct {
	envelope
	SecretRef
}

func (ListRequest) Action() string { return ActionList }
func (SetMasterKeyRequest) Action() string { return ActionSetMasterKey }
func (RotateMasterKeyRequest) Action() string { return ActionRotateMasterKey }
func (UpsertSecretRequest) Action() string { return ActionUpsertSecret }
func (GetRequest) Action() string { return ActionGet }
func (RevealRequest) Action() string { return ActionReveal }
func (SetRequest) Action() string { return ActionSet }
func (ClearRequest) Action() string { return ActionClear }

func (ListRequest) validate() error { return nil }

func (r SetMasterKeyRequest) validate() error {
	if r.MasterKey == "" {
		return verrors.Validation("master_key is required")
	}
	return nil
}

func (r RotateMasterKeyRequest) validate() error {
	if r.OldMasterKey == "" || r.NewMasterKey == "" {
		return verrors.Validation("old_master_key and new_master_key are required")
	}
	return nil
}

func (r UpsertSecretRequest) validate() error {
	var missing []string
	if r.Provider == "" {
		missing = append(missing, "provider")
	}
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Value == "" {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return verrors.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r SetRequest) validate() error {
	if r.APIKey == "" {
		return verrors.Validation("api_key is required")
	}
	return nil
}

func (ListRequest) secrets() []string { return nil }
func (r SetMasterKeyRequest) secrets() []string { return []string{r.MasterKey} }
func (r RotateMasterKeyRequest) secrets() []string {
	return []string{r.OldMasterKey, r.NewMasterKey}
}
func (r UpsertSecretRequest) secrets() []string { return []string{r.Value} }
func (SecretRef) secrets() []string { return nil }
func (r SetRequest) secrets() []string { return []string{r.APIKey} }

// DecodeRequest parses a request body into the concrete type for its action
// and validates it. Unknown fields are rejected.
func DecodeRequest(body []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, verrors.Validation("invalid JSON body")
	}

	var req Request
	switch env.Kind {
	case "":
		return nil, verrors.Validation("action is required")
	case ActionList:
		req = &ListRequest{}
	case ActionSetMasterKey:
		req = &SetMasterKeyRequest{}
	case ActionRotateMasterKey:
		req = &RotateMasterKeyRequest{}
	case ActionUpsertSecret:
		req = &UpsertSecretRequest{}
	case ActionGet:
		req = &GetRequest{}
	case ActionReveal:
		req = &RevealRequest{}
	case ActionSet:
		req = &SetRequest{}
	case ActionClear:
		req = &ClearRequest{}
	default:
		return nil, verrors.Validation("unknown action %q", env.Kind)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, verrors.Validation("invalid %s request: %s", env.Kind, fieldError(err))
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// fieldError keeps decoder messages about field names and types but drops
// anything that could echo a value.
func fieldError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return "field " + typeErr.Field + " must be " + typeErr.Type.String()
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return strings.TrimPrefix(msg, "json: ")
	}
	return "malformed body"
}
