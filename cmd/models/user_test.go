package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAssignRole_OneWay(t *testing.T) {
	fresh := User{Role: RoleUnset}
	assert.True(t, fresh.CanAssignRole(RoleUser))
	assert.True(t, fresh.CanAssignRole(RoleCommunityOwner))
	assert.False(t, fresh.CanAssignRole("admin"))
	assert.False(t, fresh.CanAssignRole(RoleUnset))

	// Empty string counts as unset for rows created before the default
	legacy := User{Role: ""}
	assert.True(t, legacy.CanAssignRole(RoleUser))

	// Terminal roles never change, not even to themselves
	assigned := User{Role: RoleUser}
	assert.False(t, assigned.CanAssignRole(RoleCommunityOwner))
	assert.False(t, assigned.CanAssignRole(RoleUser))
}
