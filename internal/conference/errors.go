package conference

import "errors"

var (
	ErrConnectionTimeout = errors.New("connection state timeout")
	ErrJoinFailure       = errors.New("join failed")
	ErrMediaAcquisition  = errors.New("media acquisition failed")
	ErrPublishFailure    = errors.New("publish failed")
	ErrUnpublishFailure  = errors.New("unpublish failed")
	ErrLeaveFailure      = errors.New("leave failed")

	ErrAlreadyConnected  = errors.New("session already connected")
	ErrNotConnected      = errors.New("session not connected")
	ErrScreenShareActive = errors.New("screen share already active")
	ErrQueueClosed       = errors.New("operation queue closed")
)
