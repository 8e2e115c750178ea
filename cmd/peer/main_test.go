package main

import (
	"testing"

	"rendezvous/pkg/client"

	"github.com/stretchr/testify/assert"
)

func TestFindUser(t *testing.T) {
	users := []client.User{
		{ConnectionID: "self", DisplayName: "bob"},
		{ConnectionID: "c1", DisplayName: "alice"},
		{ConnectionID: "c2", DisplayName: "bob"},
	}

	u, ok := findUser(users, "alice", "self")
	assert.True(t, ok)
	assert.Equal(t, "c1", u.ConnectionID)

	u, ok = findUser(users, "bob", "self")
	assert.True(t, ok)
	assert.Equal(t, "c2", u.ConnectionID, "never calls itself")

	u, ok = findUser(users, "c1", "self")
	assert.True(t, ok)
	assert.Equal(t, "alice", u.DisplayName)

	_, ok = findUser(users, "carol", "self")
	assert.False(t, ok)
}
