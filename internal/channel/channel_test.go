package channel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/channel"
	"github.com/supportchat/internal/channel/channeltest"
)

func TestManager_ConnectIsMemoised(t *testing.T) {
	req := require.New(t)
	dials := 0
	m := channel.NewManager(func(ctx context.Context) (channel.Channel, error) {
		dials++
		return channeltest.New(), nil
	})

	first, err := m.Connect(context.Background())
	req.NoError(err)
	second, err := m.Connect(context.Background())
	req.NoError(err)
	third, err := m.GetChannel(context.Background())
	req.NoError(err)

	req.Same(first, second)
	req.Same(first, third)
	req.Equal(1, dials)
	req.True(m.Connected())
}

func TestManager_DisconnectAllowsFreshChannel(t *testing.T) {
	req := require.New(t)
	var created []*channeltest.Channel
	m := channel.NewManager(func(ctx context.Context) (channel.Channel, error) {
		ch := channeltest.New()
		created = append(created, ch)
		return ch, nil
	})

	first, err := m.Connect(context.Background())
	req.NoError(err)
	req.NoError(m.Disconnect())
	req.True(created[0].Closed())
	req.False(m.Connected())

	second, err := m.Connect(context.Background())
	req.NoError(err)
	req.NotSame(first, second)
	req.Len(created, 2)
}

func TestManager_DisconnectWithoutChannel(t *testing.T) {
	m := channel.NewManager(func(ctx context.Context) (channel.Channel, error) {
		return channeltest.New(), nil
	})
	require.NoError(t, m.Disconnect())
}

func TestManager_DialErrorIsNotMemoised(t *testing.T) {
	req := require.New(t)
	fail := true
	m := channel.NewManager(func(ctx context.Context) (channel.Channel, error) {
		if fail {
			return nil, errors.New("bad url")
		}
		return channeltest.New(), nil
	})

	_, err := m.Connect(context.Background())
	req.Error(err)
	req.False(m.Connected())

	fail = false
	ch, err := m.GetChannel(context.Background())
	req.NoError(err)
	req.NotNil(ch)
}
