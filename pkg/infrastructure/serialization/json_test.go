package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

type userRegistered struct {
	event.IntegrationBase
	UserID int `json:"user_id"`
}

func TestJSONSerializerRoundtrip(t *testing.T) {
	s := NewJSONSerializer()
	RegisterType[userRegistered](s, "user.registered")

	original := userRegistered{
		IntegrationBase: event.NewIntegrationBase("user.registered", "auth", 1),
		UserID:          7,
	}

	data, err := s.Serialize(original)
	require.NoError(t, err)

	decoded, err := s.Deserialize(data, "user.registered")
	require.NoError(t, err)

	typed, ok := decoded.(userRegistered)
	require.True(t, ok)
	assert.Equal(t, 7, typed.UserID)
	assert.Equal(t, original.EventID(), typed.EventID())
	assert.Equal(t, "auth", typed.Source())
}

func TestJSONSerializerUnknownType(t *testing.T) {
	s := NewJSONSerializer()

	_, err := s.Deserialize([]byte(`{}`), "never.registered")
	assert.ErrorIs(t, err, event.ErrUnknownEventType)
}

func TestJSONSerializerBadPayload(t *testing.T) {
	s := NewJSONSerializer()
	RegisterType[userRegistered](s, "user.registered")

	_, err := s.Deserialize([]byte(`{not json`), "user.registered")
	assert.ErrorIs(t, err, event.ErrSerialization)
}

func TestTypedDeserializeHelper(t *testing.T) {
	s := NewJSONSerializer()
	RegisterType[userRegistered](s, "user.registered")

	original := userRegistered{
		IntegrationBase: event.NewIntegrationBase("user.registered", "auth", 1),
		UserID:          42,
	}
	data, err := s.Serialize(original)
	require.NoError(t, err)

	typed, err := event.Deserialize[userRegistered](s, data, "user.registered")
	require.NoError(t, err)
	assert.Equal(t, 42, typed.UserID)
}
