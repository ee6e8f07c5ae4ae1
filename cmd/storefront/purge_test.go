package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeCmd(t *testing.T) {
	configPath := ""
	cmd := purgeCmd(&configPath)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"products"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "deleted 0 products\n", out.String())

	cmd = purgeCmd(&configPath)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"widgets"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource \"widgets\"")
	assert.Contains(t, err.Error(), "carts, contacts, events, orders, partners, products")
}
