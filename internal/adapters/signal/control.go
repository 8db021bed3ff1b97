package signal

import (
	"errors"

	"github.com/dkeye/VideoRoom/internal/app/orch"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

func (ctl *SignalWSController) handlePing(conn core.SignalConnection, msg protocol.Message) {
	ctl.send(conn, protocol.Reply(msg, protocol.TypePong))
}

// fail reports err to the client with the code matching its kind.
func (ctl *SignalWSController) fail(conn core.SignalConnection, req protocol.Message, err error) {
	code := protocol.CodeInternal
	switch {
	case errors.Is(err, orch.ErrNotJoined), errors.Is(err, orch.ErrNoSession):
		code = protocol.CodeNotJoined
	case errors.Is(err, orch.ErrTrackNotFound):
		code = protocol.CodeNotFound
	}
	ctl.send(conn, protocol.ErrorReply(req, code, err.Error()))
}
