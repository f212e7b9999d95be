package fake

import (
	"context"
	"testing"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestSender_AlwaysDelivers(t *testing.T) {
	s := New()
	ok, err := s.SendMessageToUser(context.Background(), "42", "hello", &models.Keyboard{
		Rows: [][]models.KeyboardButton{{{Text: "open", URL: "http://x"}}},
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SendMessageToUser(context.Background(), "42", "hello", nil)
	require.NoError(t, err)
	require.True(t, ok)
}
