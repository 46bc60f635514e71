package protocol

import "fmt"

// AMQP protocol version
const (
	ProtocolVersionMajor    = 0
	ProtocolVersionMinor    = 9
	ProtocolVersionRevision = 1

	ProtocolHeader = "AMQP\x00\x00\x09\x01"
)

// Frame types
const (
	FrameMethod    = 1
	FrameHeader    = 2
	FrameBody      = 3
	FrameHeartbeat = 8
	FrameEnd       = 0xCE // Frame terminator byte
)

// AMQP Class IDs
const (
	ClassConnection = 10
	ClassChannel    = 20
	ClassExchange   = 40
	ClassQueue      = 50
	ClassBasic      = 60
	ClassConfirm    = 85
	ClassTx         = 90
)

// Connection method IDs
const (
	MethodConnectionStart     = 10
	MethodConnectionStartOk   = 11
	MethodConnectionSecure    = 20
	MethodConnectionSecureOk  = 21
	MethodConnectionTune      = 30
	MethodConnectionTuneOk    = 31
	MethodConnectionOpen      = 40
	MethodConnectionOpenOk    = 41
	MethodConnectionClose     = 50
	MethodConnectionCloseOk   = 51
	MethodConnectionBlocked   = 60
	MethodConnectionUnblocked = 61
)

// Channel method IDs
const (
	MethodChannelOpen    = 10
	MethodChannelOpenOk  = 11
	MethodChannelFlow    = 20
	MethodChannelFlowOk  = 21
	MethodChannelClose   = 40
	MethodChannelCloseOk = 41
)

// Exchange method IDs
const (
	MethodExchangeDeclare   = 10
	MethodExchangeDeclareOk = 11
	MethodExchangeDelete    = 20
	MethodExchangeDeleteOk  = 21
	MethodExchangeBind      = 30
	MethodExchangeBindOk    = 31
	MethodExchangeUnbind    = 40
	MethodExchangeUnbindOk  = 51
)

// Queue method IDs
const (
	MethodQueueDeclare   = 10
	MethodQueueDeclareOk = 11
	MethodQueueBind      = 20
	MethodQueueBindOk    = 21
	MethodQueuePurge     = 30
	MethodQueuePurgeOk   = 31
	MethodQueueDelete    = 40
	MethodQueueDeleteOk  = 41
	MethodQueueUnbind    = 50
	MethodQueueUnbindOk  = 51
)

// Basic method IDs
const (
	MethodBasicQos          = 10
	MethodBasicQosOk        = 11
	MethodBasicConsume      = 20
	MethodBasicConsumeOk    = 21
	MethodBasicCancel       = 30
	MethodBasicCancelOk     = 31
	MethodBasicPublish      = 40
	MethodBasicReturn       = 50
	MethodBasicDeliver      = 60
	MethodBasicGet          = 70
	MethodBasicGetOk        = 71
	MethodBasicGetEmpty     = 72
	MethodBasicAck          = 80
	MethodBasicReject       = 90
	MethodBasicRecoverAsync = 100
	MethodBasicRecover      = 110
	MethodBasicRecoverOk    = 111
	MethodBasicNack         = 120
)

// Tx method IDs
const (
	MethodTxSelect     = 10
	MethodTxSelectOk   = 11
	MethodTxCommit     = 20
	MethodTxCommitOk   = 21
	MethodTxRollback   = 30
	MethodTxRollbackOk = 31
)

// Confirm method IDs
const (
	MethodConfirmSelect   = 10
	MethodConfirmSelectOk = 11
)

// AMQP reply codes
const (
	ReplySuccess            = 200
	ReplyContentTooLarge    = 311
	ReplyNoRoute            = 312
	ReplyNoConsumers        = 313
	ReplyConnectionForced   = 320
	ReplyInvalidPath        = 402
	ReplyAccessRefused      = 403
	ReplyNotFound           = 404
	ReplyResourceLocked     = 405
	ReplyPreconditionFailed = 406
	ReplyFrameError         = 501
	ReplySyntaxError        = 502
	ReplyCommandInvalid     = 503
	ReplyChannelError       = 504
	ReplyUnexpectedFrame    = 505
	ReplyResourceError      = 506
	ReplyNotAllowed         = 530
	ReplyNotImplemented     = 540
	ReplyInternalError      = 541
)

// Built-in exchange types
const (
	ExchangeTypeDirect  = "direct"
	ExchangeTypeFanout  = "fanout"
	ExchangeTypeTopic   = "topic"
	ExchangeTypeHeaders = "headers"
)

// Default exchange name
const (
	DefaultExchange = ""
)

// Delivery modes
const (
	DeliveryModeNonPersistent = 1
	DeliveryModePersistent    = 2
)

// Frame size constants
const (
	FrameMinSize    = 4096
	FrameHeaderSize = 7 // Frame type (1) + Channel ID (2) + Size (4)
	FrameEndSize    = 1 // Frame end marker
)

// MethodID identifies a method on the wire as a (class, method) pair.
type MethodID struct {
	Class  uint16
	Method uint16
}

// ID builds a MethodID.
func ID(class, method uint16) MethodID {
	return MethodID{Class: class, Method: method}
}

// String renders the pair as "Class.Method" when known, "class.method" otherwise.
func (id MethodID) String() string {
	if name, ok := methodNames[id]; ok {
		return name
	}
	return fmt.Sprintf("%d.%d", id.Class, id.Method)
}

// ClassName returns the name of an AMQP class id.
func ClassName(class uint16) string {
	switch class {
	case ClassConnection:
		return "connection"
	case ClassChannel:
		return "channel"
	case ClassExchange:
		return "exchange"
	case ClassQueue:
		return "queue"
	case ClassBasic:
		return "basic"
	case ClassConfirm:
		return "confirm"
	case ClassTx:
		return "tx"
	default:
		return fmt.Sprintf("class(%d)", class)
	}
}

var methodNames = map[MethodID]string{
	{ClassConnection, MethodConnectionStart}:     "connection.start",
	{ClassConnection, MethodConnectionStartOk}:   "connection.start-ok",
	{ClassConnection, MethodConnectionSecure}:    "connection.secure",
	{ClassConnection, MethodConnectionSecureOk}:  "connection.secure-ok",
	{ClassConnection, MethodConnectionTune}:      "connection.tune",
	{ClassConnection, MethodConnectionTuneOk}:    "connection.tune-ok",
	{ClassConnection, MethodConnectionOpen}:      "connection.open",
	{ClassConnection, MethodConnectionOpenOk}:    "connection.open-ok",
	{ClassConnection, MethodConnectionClose}:     "connection.close",
	{ClassConnection, MethodConnectionCloseOk}:   "connection.close-ok",
	{ClassConnection, MethodConnectionBlocked}:   "connection.blocked",
	{ClassConnection, MethodConnectionUnblocked}: "connection.unblocked",

	{ClassChannel, MethodChannelOpen}:    "channel.open",
	{ClassChannel, MethodChannelOpenOk}:  "channel.open-ok",
	{ClassChannel, MethodChannelFlow}:    "channel.flow",
	{ClassChannel, MethodChannelFlowOk}:  "channel.flow-ok",
	{ClassChannel, MethodChannelClose}:   "channel.close",
	{ClassChannel, MethodChannelCloseOk}: "channel.close-ok",

	{ClassExchange, MethodExchangeDeclare}:   "exchange.declare",
	{ClassExchange, MethodExchangeDeclareOk}: "exchange.declare-ok",
	{ClassExchange, MethodExchangeDelete}:    "exchange.delete",
	{ClassExchange, MethodExchangeDeleteOk}:  "exchange.delete-ok",
	{ClassExchange, MethodExchangeBind}:      "exchange.bind",
	{ClassExchange, MethodExchangeBindOk}:    "exchange.bind-ok",
	{ClassExchange, MethodExchangeUnbind}:    "exchange.unbind",
	{ClassExchange, MethodExchangeUnbindOk}:  "exchange.unbind-ok",

	{ClassQueue, MethodQueueDeclare}:   "queue.declare",
	{ClassQueue, MethodQueueDeclareOk}: "queue.declare-ok",
	{ClassQueue, MethodQueueBind}:      "queue.bind",
	{ClassQueue, MethodQueueBindOk}:    "queue.bind-ok",
	{ClassQueue, MethodQueuePurge}:     "queue.purge",
	{ClassQueue, MethodQueuePurgeOk}:   "queue.purge-ok",
	{ClassQueue, MethodQueueDelete}:    "queue.delete",
	{ClassQueue, MethodQueueDeleteOk}:  "queue.delete-ok",
	{ClassQueue, MethodQueueUnbind}:    "queue.unbind",
	{ClassQueue, MethodQueueUnbindOk}:  "queue.unbind-ok",

	{ClassBasic, MethodBasicQos}:          "basic.qos",
	{ClassBasic, MethodBasicQosOk}:        "basic.qos-ok",
	{ClassBasic, MethodBasicConsume}:      "basic.consume",
	{ClassBasic, MethodBasicConsumeOk}:    "basic.consume-ok",
	{ClassBasic, MethodBasicCancel}:       "basic.cancel",
	{ClassBasic, MethodBasicCancelOk}:     "basic.cancel-ok",
	{ClassBasic, MethodBasicPublish}:      "basic.publish",
	{ClassBasic, MethodBasicReturn}:       "basic.return",
	{ClassBasic, MethodBasicDeliver}:      "basic.deliver",
	{ClassBasic, MethodBasicGet}:          "basic.get",
	{ClassBasic, MethodBasicGetOk}:        "basic.get-ok",
	{ClassBasic, MethodBasicGetEmpty}:     "basic.get-empty",
	{ClassBasic, MethodBasicAck}:          "basic.ack",
	{ClassBasic, MethodBasicReject}:       "basic.reject",
	{ClassBasic, MethodBasicRecoverAsync}: "basic.recover-async",
	{ClassBasic, MethodBasicRecover}:      "basic.recover",
	{ClassBasic, MethodBasicRecoverOk}:    "basic.recover-ok",
	{ClassBasic, MethodBasicNack}:         "basic.nack",

	{ClassConfirm, MethodConfirmSelect}:   "confirm.select",
	{ClassConfirm, MethodConfirmSelectOk}: "confirm.select-ok",

	{ClassTx, MethodTxSelect}:     "tx.select",
	{ClassTx, MethodTxSelectOk}:   "tx.select-ok",
	{ClassTx, MethodTxCommit}:     "tx.commit",
	{ClassTx, MethodTxCommitOk}:   "tx.commit-ok",
	{ClassTx, MethodTxRollback}:   "tx.rollback",
	{ClassTx, MethodTxRollbackOk}: "tx.rollback-ok",
}
