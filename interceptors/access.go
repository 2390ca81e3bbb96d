package interceptors

// accessor identifies a request info method in the validity tables
type accessor int

const (
	accRequestID accessor = iota
	accOperation
	accArguments
	accExceptions
	accContexts
	accOperationContext
	accResult
	accResponseExpected
	accSyncScope
	accReplyStatus
	accForwardReference
	accGetSlot
	accSetSlot
	accGetRequestServiceContext
	accGetReplyServiceContext
	accTarget
	accEffectiveTarget
	accEffectiveProfile
	accReceivedException
	accReceivedExceptionID
	accGetEffectiveComponent
	accGetEffectiveComponents
	accGetRequestPolicy
	accAddRequestServiceContext
	accSendingException
	accObjectID
	accAdapterID
	accServerID
	accORBID
	accAdapterName
	accTargetMostDerivedInterface
	accGetServerPolicy
	accTargetIsA
	accAddReplyServiceContext
)

var accessorNames = map[accessor]string{
	accRequestID:                  "RequestID",
	accOperation:                  "Operation",
	accArguments:                  "Arguments",
	accExceptions:                 "Exceptions",
	accContexts:                   "Contexts",
	accOperationContext:           "OperationContext",
	accResult:                     "Result",
	accResponseExpected:           "ResponseExpected",
	accSyncScope:                  "SyncScope",
	accReplyStatus:                "ReplyStatus",
	accForwardReference:           "ForwardReference",
	accGetSlot:                    "GetSlot",
	accSetSlot:                    "SetSlot",
	accGetRequestServiceContext:   "GetRequestServiceContext",
	accGetReplyServiceContext:     "GetReplyServiceContext",
	accTarget:                     "Target",
	accEffectiveTarget:            "EffectiveTarget",
	accEffectiveProfile:           "EffectiveProfile",
	accReceivedException:          "ReceivedException",
	accReceivedExceptionID:        "ReceivedExceptionID",
	accGetEffectiveComponent:      "GetEffectiveComponent",
	accGetEffectiveComponents:     "GetEffectiveComponents",
	accGetRequestPolicy:           "GetRequestPolicy",
	accAddRequestServiceContext:   "AddRequestServiceContext",
	accSendingException:           "SendingException",
	accObjectID:                   "ObjectID",
	accAdapterID:                  "AdapterID",
	accServerID:                   "ServerID",
	accORBID:                      "ORBID",
	accAdapterName:                "AdapterName",
	accTargetMostDerivedInterface: "TargetMostDerivedInterface",
	accGetServerPolicy:            "GetServerPolicy",
	accTargetIsA:                  "TargetIsA",
	accAddReplyServiceContext:     "AddReplyServiceContext",
}

func (a accessor) String() string {
	return accessorNames[a]
}

// Client columns
const (
	colSendRequest = iota
	colReceiveReply
	colReceiveException
	colReceiveOther
)

var clientColumnNames = [...]string{"SendRequest", "ReceiveReply", "ReceiveException", "ReceiveOther"}

// clientAccess lists, per accessor, the client interception points where it is valid.
// Accessors missing from the table are never valid on the client.
var clientAccess = map[accessor][4]bool{
	//                            send   reply  except other
	accRequestID:                {true, true, true, true},
	accOperation:                {true, true, true, true},
	accArguments:                {true, true, false, false},
	accExceptions:               {true, true, true, true},
	accContexts:                 {true, true, true, true},
	accOperationContext:         {true, true, true, true},
	accResult:                   {false, true, false, false},
	accResponseExpected:         {true, true, true, true},
	accSyncScope:                {true, true, true, true},
	accReplyStatus:              {false, true, true, true},
	accForwardReference:         {false, false, false, true},
	accGetSlot:                  {true, true, true, true},
	accGetRequestServiceContext: {true, true, true, true},
	accGetReplyServiceContext:   {false, true, true, true},
	accTarget:                   {true, true, true, true},
	accEffectiveTarget:          {true, true, true, true},
	accEffectiveProfile:         {true, true, true, true},
	accReceivedException:        {false, false, true, false},
	accReceivedExceptionID:      {false, false, true, false},
	accGetEffectiveComponent:    {true, true, true, true},
	accGetEffectiveComponents:   {true, true, true, true},
	accGetRequestPolicy:         {true, true, true, true},
	accAddRequestServiceContext: {true, false, false, false},
}

// Server columns
const (
	colReceiveRequestServiceContexts = iota
	colReceiveRequest
	colSendReply
	colSendException
	colSendOther
)

var serverColumnNames = [...]string{
	"ReceiveRequestServiceContexts", "ReceiveRequest", "SendReply", "SendException", "SendOther",
}

// serverAccess lists, per accessor, the server interception points where it is valid
var serverAccess = map[accessor][5]bool{
	//                              rrsc   rr     reply  except other
	accRequestID:                  {true, true, true, true, true},
	accOperation:                  {true, true, true, true, true},
	accArguments:                  {false, true, true, false, false},
	accExceptions:                 {false, true, true, true, true},
	accContexts:                   {false, true, true, true, true},
	accOperationContext:           {false, true, true, false, false},
	accResult:                     {false, false, true, false, false},
	accResponseExpected:           {true, true, true, true, true},
	accSyncScope:                  {true, true, true, true, true},
	accReplyStatus:                {false, false, true, true, true},
	accForwardReference:           {false, false, false, false, true},
	accGetSlot:                    {true, true, true, true, true},
	accSetSlot:                    {true, true, true, true, true},
	accGetRequestServiceContext:   {true, true, true, true, true},
	accGetReplyServiceContext:     {false, false, true, true, true},
	accSendingException:           {false, false, false, true, false},
	accObjectID:                   {false, true, true, true, true},
	accAdapterID:                  {false, true, true, true, true},
	accServerID:                   {false, true, true, true, true},
	accORBID:                      {false, true, true, true, true},
	accAdapterName:                {false, true, true, true, true},
	accTargetMostDerivedInterface: {false, true, false, false, false},
	accGetServerPolicy:            {true, true, true, true, true},
	accTargetIsA:                  {false, true, false, false, false},
	accAddReplyServiceContext:     {true, true, true, true, true},
}

func clientColumn(point ExecutionPoint, call endingCall) int {
	if point == PointStarting {
		return colSendRequest
	}
	switch call {
	case callException:
		return colReceiveException
	case callOther:
		return colReceiveOther
	default:
		return colReceiveReply
	}
}

func serverColumn(point ExecutionPoint, call endingCall) int {
	switch point {
	case PointStarting:
		return colReceiveRequestServiceContexts
	case PointIntermediate:
		return colReceiveRequest
	}
	switch call {
	case callException:
		return colSendException
	case callOther:
		return colSendOther
	default:
		return colSendReply
	}
}

func checkClientAccess(a accessor, point ExecutionPoint, call endingCall) error {
	col := clientColumn(point, call)
	if row, ok := clientAccess[a]; ok && row[col] {
		return nil
	}
	return &OrderingError{Accessor: a.String(), Point: clientColumnNames[col]}
}

func checkServerAccess(a accessor, point ExecutionPoint, call endingCall) error {
	col := serverColumn(point, call)
	if row, ok := serverAccess[a]; ok && row[col] {
		return nil
	}
	return &OrderingError{Accessor: a.String(), Point: serverColumnNames[col]}
}
