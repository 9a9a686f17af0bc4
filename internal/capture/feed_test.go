package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"AI_PROCTOR/go-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeviceSendsConstraints(t *testing.T) {
	var got any
	var dev *FeedDevice
	dev = NewFeedDevice(func(msgType string, payload any) error {
		if msgType == models.MsgStartCapture {
			got = payload
			dev.Granted()
		}
		return nil
	})

	s, err := dev.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, Constraints{Width: 640, Height: 480, FacingMode: "user"}, got)
}

func TestFeedDeviceSecondOpenIsBusy(t *testing.T) {
	var dev *FeedDevice
	dev = NewFeedDevice(func(msgType string, _ any) error {
		if msgType == models.MsgStartCapture {
			dev.Granted()
		}
		return nil
	})

	s, err := dev.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	_, err = dev.Open(context.Background(), DefaultConstraints())
	assert.Equal(t, FailureBusy, Classify(err))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrStreamClosed)

	s, err = dev.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestFeedDeviceFrameBeforeGrant(t *testing.T) {
	var dev *FeedDevice
	dev = NewFeedDevice(func(msgType string, _ any) error {
		if msgType == models.MsgStartCapture {
			dev.PushFrame(models.VideoFrame{SequenceNumber: 9})
		}
		return nil
	})

	s, err := dev.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	require.NoError(t, s.Ready(context.Background()))

	frame, ok := s.Frame()
	require.True(t, ok)
	assert.Equal(t, int32(9), frame.SequenceNumber)
}

func TestFeedDeviceKeepsLatestFrame(t *testing.T) {
	var dev *FeedDevice
	dev = NewFeedDevice(func(msgType string, _ any) error {
		if msgType == models.MsgStartCapture {
			dev.Granted()
		}
		return nil
	})
	s, err := dev.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	_, ok := s.Frame()
	assert.False(t, ok)

	for i := int32(1); i <= 3; i++ {
		dev.PushFrame(models.VideoFrame{SequenceNumber: i})
	}
	frame, ok := s.Frame()
	require.True(t, ok)
	assert.Equal(t, int32(3), frame.SequenceNumber)
}

func TestFeedDeviceSendFailure(t *testing.T) {
	dev := NewFeedDevice(func(string, any) error { return errors.New("socket closed") })

	_, err := dev.Open(context.Background(), DefaultConstraints())
	require.Error(t, err)
	assert.Equal(t, FailureUnknown, Classify(err))
}

func TestFeedDeviceDetachFailsPendingOpen(t *testing.T) {
	sent := make(chan struct{})
	dev := NewFeedDevice(func(string, any) error {
		close(sent)
		return nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := dev.Open(context.Background(), DefaultConstraints())
		errc <- err
	}()

	<-sent
	dev.Detach()

	select {
	case err := <-errc:
		assert.Equal(t, FailureNotFound, Classify(err))
	case <-time.After(time.Second):
		t.Fatal("Open did not return after Detach")
	}

	_, err := dev.Open(context.Background(), DefaultConstraints())
	assert.Equal(t, FailureNotFound, Classify(err))
}
