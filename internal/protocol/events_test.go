package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	frame, err := Encode(EventMessageDeleted, MessageRef{MessageID: "m1", ChannelID: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"message_deleted","data":{"messageId":"m1","channelId":"c1"}}`, string(frame))

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, EventMessageDeleted, env.Event)

	var ref MessageRef
	require.NoError(t, env.Bind(&ref))
	assert.Equal(t, MessageRef{MessageID: "m1", ChannelID: "c1"}, ref)
}

func TestDecodeRejectsFramesWithoutEvent(t *testing.T) {
	_, err := Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrEmptyEvent)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestBindStringAcceptsBareAndObjectForms(t *testing.T) {
	for _, raw := range []string{
		`{"event":"join_community","data":"c1"}`,
		`{"event":"join_community","data":{"communityId":" c1 "}}`,
	} {
		env, err := Decode([]byte(raw))
		require.NoError(t, err)
		id, err := env.BindString("communityId")
		require.NoError(t, err)
		assert.Equal(t, "c1", id)
	}

	env, err := Decode([]byte(`{"event":"join_community","data":{"other":"x"}}`))
	require.NoError(t, err)
	_, err = env.BindString("communityId")
	assert.Error(t, err)

	env, err = Decode([]byte(`{"event":"join_community"}`))
	require.NoError(t, err)
	_, err = env.BindString("communityId")
	assert.Error(t, err)
}

func TestIdentityAcceptsBothIDFields(t *testing.T) {
	env, err := Decode([]byte(`{"event":"authenticate","data":{"id":"u1","username":"alice","avatar":"a.png"}}`))
	require.NoError(t, err)
	var identity Identity
	require.NoError(t, env.Bind(&identity))
	assert.Equal(t, Identity{ID: "u1", Username: "alice", Avatar: "a.png"}, identity)

	env, err = Decode([]byte(`{"event":"authenticate","data":{"_id":"u2","username":"bob"}}`))
	require.NoError(t, err)
	require.NoError(t, env.Bind(&identity))
	assert.Equal(t, "u2", identity.ID)
	assert.True(t, identity.Valid())

	assert.False(t, Identity{Username: "ghost"}.Valid())
}

func TestChannelKindCarriesMessages(t *testing.T) {
	assert.True(t, ChannelText.CarriesMessages())
	assert.True(t, ChannelVideo.CarriesMessages())
	assert.False(t, ChannelVoice.CarriesMessages())
}
