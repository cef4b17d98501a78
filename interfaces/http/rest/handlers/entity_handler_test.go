package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToResponse_StripsCredentials(t *testing.T) {
	rec := aggregates.EntityRecord{
		ID:       1,
		Kind:     entities.KindUser,
		Name:     "alice",
		Email:    "alice@example.com",
		IsActive: true,
		Credentials: &entities.Credentials{
			PasswordHash: "hash-material",
			Salt:         "salt-material",
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	body, err := json.Marshal(toResponse(rec))
	require.NoError(t, err)

	payload := string(body)
	assert.NotContains(t, payload, "hash-material")
	assert.NotContains(t, payload, "salt-material")
	assert.NotContains(t, payload, "credentials")
	assert.NotContains(t, payload, "PasswordHash")

	var view entityResponse
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, int64(1), view.ID)
	assert.Equal(t, "alice", view.Name)
	assert.Equal(t, "alice@example.com", view.Email)
}

func TestToResponse_PassesOtherResultsThrough(t *testing.T) {
	assert.Nil(t, toResponse(nil))
	assert.Equal(t, "plain", toResponse("plain"))

	m := map[string]int{"a": 1}
	assert.Equal(t, m, toResponse(m))
}
