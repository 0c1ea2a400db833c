package sshclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	ep, err := ParseAddress("monitor@129.10.187.52")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{User: "monitor", Host: "129.10.187.52", Port: "22"}, ep)
	assert.Equal(t, "129.10.187.52:22", ep.Addr())

	ep, err = ParseAddress("ops@hub.lab:2222")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{User: "ops", Host: "hub.lab", Port: "2222"}, ep)

	ep, err = ParseAddress("ops@[fe80::1]:22")
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", ep.Host)
}

func TestParseAddressErrors(t *testing.T) {
	_, err := ParseAddress("  ")
	require.Error(t, err)

	_, err = ParseAddress("user@")
	require.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.ssh/key", expandHome("~/.ssh/key"))
	assert.Equal(t, "/etc/key", expandHome("/etc/key"))
}
