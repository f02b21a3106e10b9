package stompnet

// Client commands.
const (
	CmdConnect     = "CONNECT"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
)

// Server commands.
const (
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

// Header names.
const (
	HeaderLogin        = "login"
	HeaderPasscode     = "passcode"
	HeaderDestination  = "destination"
	HeaderID           = "id"
	HeaderReceipt      = "receipt"
	HeaderReceiptID    = "receipt-id"
	HeaderFilename     = "filename"
	HeaderVersion      = "version"
	HeaderSubscription = "subscription"
	HeaderMessageID    = "message-id"
	HeaderMessage      = "message"
)

// ProtocolVersion is announced in the CONNECTED frame.
const ProtocolVersion = "1.2"

// DefaultPort is used when the bootstrap is given no port.
const DefaultPort = 7777

// Error messages carried in the message header of ERROR frames.
const (
	ErrMalformedConnect     = "Malformed Frame: Missing login or passcode"
	ErrLoginFailed          = "Login failed: User already logged in or wrong password"
	ErrMalformedSubscribe   = "Malformed SUBSCRIBE frame: missing destination or id"
	ErrMalformedUnsubscribe = "Malformed UNSUBSCRIBE frame: missing id header"
	ErrMalformedSend        = "Malformed SEND frame: missing destination"
	ErrNotSubscribed        = "Permission denied: You are not subscribed to this topic"
	ErrUnknownCommand       = "Unknown Command"
)
