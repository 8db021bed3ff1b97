package core

import "github.com/dkeye/VideoRoom/internal/domain"

type SessionID string

// MemberSession binds domain.Member and its transport endpoints.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	Publisher() MediaConnection
	Subscriber() MediaConnection
	UpdateSignal(SignalConnection) MemberSession
	UpdatePublisher(MediaConnection) MemberSession
	UpdateSubscriber(MediaConnection) MemberSession
}
