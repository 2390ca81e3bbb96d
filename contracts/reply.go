package contracts

// ReplyMessageStatus is the status a reply carries on the wire
type ReplyMessageStatus int

const (
	NoException ReplyMessageStatus = iota
	UserExceptionReply
	SystemExceptionReply
	LocationForwardReply
	LocationForwardPermReply
	NeedsAddressingModeReply
)

// String returns the status name
func (s ReplyMessageStatus) String() string {
	switch s {
	case NoException:
		return "NO_EXCEPTION"
	case UserExceptionReply:
		return "USER_EXCEPTION"
	case SystemExceptionReply:
		return "SYSTEM_EXCEPTION"
	case LocationForwardReply:
		return "LOCATION_FORWARD"
	case LocationForwardPermReply:
		return "LOCATION_FORWARD_PERM"
	case NeedsAddressingModeReply:
		return "NEEDS_ADDRESSING_MODE"
	default:
		return "UNKNOWN"
	}
}

// ReplyMessage is the reply the server builds for one request
type ReplyMessage struct {
	RequestID       uint32
	Status          ReplyMessageStatus
	ServiceContexts *ServiceContexts

	// Result holds the encoded return value on NoException
	Result []byte

	// Exception holds the failure on System/UserException
	Exception error

	// IOR is the forward target on LocationForward
	IOR *IOR
}

// NewReplyMessage creates a reply with an empty service context container
func NewReplyMessage(requestID uint32, status ReplyMessageStatus) *ReplyMessage {
	return &ReplyMessage{
		RequestID:       requestID,
		Status:          status,
		ServiceContexts: NewServiceContexts(),
	}
}
