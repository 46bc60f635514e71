package monstermq

import (
	"errors"

	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Error types returned by connections and channels. Test for them with
// errors.As.
type (
	// EncodingError is a local encoding failure: a value out of range or a
	// string too long. Nothing was sent.
	EncodingError = protocol.EncodingError

	// ProtocolError is a framing or sequencing violation. The connection
	// is closed with 501 or 505.
	ProtocolError = protocol.ProtocolError

	// SessionError is a Connection.Close (Channel 0) or Channel.Close
	// received from the server
	SessionError = protocol.SessionError

	// ConnectionError is a transport failure. The connection is unusable.
	ConnectionError = protocol.ConnectionError
)

// Reply codes
const (
	ReplySuccess       = protocol.ReplySuccess
	ContentTooLarge    = protocol.ReplyContentTooLarge
	NoRoute            = protocol.ReplyNoRoute
	NoConsumers        = protocol.ReplyNoConsumers
	ConnectionForced   = protocol.ReplyConnectionForced
	InvalidPath        = protocol.ReplyInvalidPath
	AccessRefused      = protocol.ReplyAccessRefused
	NotFound           = protocol.ReplyNotFound
	ResourceLocked     = protocol.ReplyResourceLocked
	PreconditionFailed = protocol.ReplyPreconditionFailed
	FrameError         = protocol.ReplyFrameError
	SyntaxError        = protocol.ReplySyntaxError
	CommandInvalid     = protocol.ReplyCommandInvalid
	ChannelError       = protocol.ReplyChannelError
	UnexpectedFrame    = protocol.ReplyUnexpectedFrame
	ResourceError      = protocol.ReplyResourceError
	NotAllowed         = protocol.ReplyNotAllowed
	NotImplemented     = protocol.ReplyNotImplemented
	InternalError      = protocol.ReplyInternalError
)

var (
	// ErrClosed is returned by operations on a closed connection
	ErrClosed = dispatch.ErrClosed

	// ErrChannelClosed is returned by operations on a closed channel
	ErrChannelClosed = errors.New("channel closed")

	// ErrChannelMax is returned when every channel number is in use
	ErrChannelMax = errors.New("channel limit reached")

	// ErrNoDelivery is returned by AckLast and friends before anything was
	// delivered on the channel
	ErrNoDelivery = dispatch.ErrNoDelivery

	// ErrStopConsuming ends ConsumeWithHandler without an error
	ErrStopConsuming = errors.New("stop consuming")
)

// ErrorHandler handles connection and channel errors that are not returned
// to a caller, such as a server-initiated close
type ErrorHandler interface {
	HandleConnectionError(conn *Connection, err error)
	HandleChannelError(ch *Channel, err error)
	HandleConsumerError(ch *Channel, consumerTag string, err error)
}

// DefaultErrorHandler logs errors
type DefaultErrorHandler struct {
	Logger *zap.Logger
}

// HandleConnectionError logs connection errors
func (deh *DefaultErrorHandler) HandleConnectionError(conn *Connection, err error) {
	deh.logger().Error("connection error", zap.Error(err))
}

// HandleChannelError logs channel errors
func (deh *DefaultErrorHandler) HandleChannelError(ch *Channel, err error) {
	deh.logger().Error("channel error", zap.Uint16("channel", ch.ID()), zap.Error(err))
}

// HandleConsumerError logs consumer errors
func (deh *DefaultErrorHandler) HandleConsumerError(ch *Channel, consumerTag string, err error) {
	deh.logger().Error("consumer error",
		zap.Uint16("channel", ch.ID()),
		zap.String("consumer_tag", consumerTag),
		zap.Error(err))
}

func (deh *DefaultErrorHandler) logger() *zap.Logger {
	if deh.Logger == nil {
		return zap.NewNop()
	}
	return deh.Logger
}
