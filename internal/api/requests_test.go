package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/systmms/secretvault/internal/errors"
)

func TestDecodeRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want Request
	}{
		{"list", `{"action":"list"}`, &ListRequest{envelope: envelope{Kind: "list"}}},
		{
			"set_master_key",
			`{"action":"set_master_key","master_key":"m1"}`,
			&SetMasterKeyRequest{envelope: envelope{Kind: "set_master_key"}, MasterKey: "m1"},
		},
		{
			"rotate_master_key",
			`{"action":"rotate_master_key","old_master_key":"m1","new_master_key":"m2"}`,
			&RotateMasterKeyRequest{envelope: envelope{Kind: "rotate_master_key"}, OldMasterKey: "m1", NewMasterKey: "m2"},
		},
		{
			"upsert_secret",
			`{"action":"upsert_secret","provider":"acme","name":"token","value":"v"}`,
			&UpsertSecretRequest{envelope: envelope{Kind: "upsert_secret"}, Provider: "acme", Name: "token", Value: "v"},
		},
		{"get_default", `{"action":"get"}`, &GetRequest{envelope: envelope{Kind: "get"}}},
		{
			"reveal_addressed",
			`{"action":"reveal","provider":"acme","name":"token"}`,
			&RevealRequest{envelope: envelope{Kind: "reveal"}, SecretRef: SecretRef{Provider: "acme", Name: "token"}},
		},
		{
			"set",
			`{"action":"set","api_key":"abcdef0123456789"}`,
			&SetRequest{envelope: envelope{Kind: "set"}, APIKey: "abcdef0123456789"},
		},
		{"clear", `{"action":"clear"}`, &ClearRequest{envelope: envelope{Kind: "clear"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRequest([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Action(), got.Action())
		})
	}
}

func TestDecodeRequestRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{"not_json", `action=list`, "invalid JSON body"},
		{"no_action", `{}`, "action is required"},
		{"unknown_action", `{"action":"drop_tables"}`, `unknown action "drop_tables"`},
		{"empty_master_key", `{"action":"set_master_key","master_key":""}`, "master_key is required"},
		{"rotate_missing_new", `{"action":"rotate_master_key","old_master_key":"m1"}`, "new_master_key"},
		{"upsert_missing_fields", `{"action":"upsert_secret","provider":"acme"}`, "name, value"},
		{"field_of_other_action", `{"action":"list","master_key":"m1"}`, `unknown field "master_key"`},
		{"wrong_type", `{"action":"set","api_key":42}`, "field api_key must be string"},
		{"half_ref", `{"action":"reveal","provider":"acme"}`, "provider and name must be given together"},
		{"set_missing_key", `{"action":"set"}`, "api_key is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, verrors.ErrValidation)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestDecodeRequestNeverEchoesValues(t *testing.T) {
	t.Parallel()

	_, err := DecodeRequest([]byte(`{"action":"set_master_key","master_key":["super-secret-value"]}`))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret-value")
}

func TestRequestSecrets(t *testing.T) {
	t.Parallel()

	req, err := DecodeRequest([]byte(`{"action":"rotate_master_key","old_master_key":"m1","new_master_key":"m2"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, req.secrets())

	req, err = DecodeRequest([]byte(`{"action":"get"}`))
	require.NoError(t, err)
	assert.Empty(t, req.secrets())
}
