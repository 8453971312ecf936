package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShowGetClose(t *testing.T) {
	c := NewCenter()

	n, err := c.Show("Hi", Options{Body: "Test", Data: &Data{URL: "/journey"}})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.NotNil(t, n.Actions, "actions default to an empty list")

	got, err := c.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi", got.Title)
	assert.Equal(t, "/journey", got.Data.URL)

	require.NoError(t, c.Close(n.ID))
	assert.Empty(t, c.List())

	assert.ErrorIs(t, c.Close(n.ID), ErrNotFound)
	_, err = c.Get(n.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrder(t *testing.T) {
	c := NewCenter()

	first, err := c.Show("first", Options{})
	require.NoError(t, err)
	second, err := c.Show("second", Options{})
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}
