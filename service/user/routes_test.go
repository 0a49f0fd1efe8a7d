package user

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/signalcove/signalcove-server/cmd/models"
	"github.com/signalcove/signalcove-server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectRole(t *testing.T, h *Handler, userID uint, role string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"role": role})
	req := testutil.AuthedRequest(t, "POST", "/api/v1/users/me/role", bytes.NewReader(body), userID)
	rec := httptest.NewRecorder()
	h.SelectRole(rec, req)
	return rec
}

func TestSelectRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db, testutil.WithRole(models.RoleUnset))
	h := NewHandler(db)

	rec := selectRole(t, h, user.ID, models.RoleCommunityOwner)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, models.RoleCommunityOwner, stored.Role)
}

func TestSelectRole_OneWay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db, testutil.WithRole(models.RoleUnset))
	h := NewHandler(db)

	require.Equal(t, 200, selectRole(t, h, user.ID, models.RoleUser).Code)

	// A second assignment never overwrites the first, regardless of target
	assert.Equal(t, 409, selectRole(t, h, user.ID, models.RoleCommunityOwner).Code)
	assert.Equal(t, 409, selectRole(t, h, user.ID, models.RoleUser).Code)

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, models.RoleUser, stored.Role)
}

func TestSelectRole_RejectsUnknownRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db, testutil.WithRole(models.RoleUnset))
	h := NewHandler(db)

	assert.Equal(t, 400, selectRole(t, h, user.ID, "admin").Code)
	assert.Equal(t, 400, selectRole(t, h, user.ID, models.RoleUnset).Code)
}
