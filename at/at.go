package at

const (
	// Terminal Control
	CR     = "\r"
	CRLF   = "\r\n"
	CtrlZ  = "\x1a"
	Prefix = "AT"

	// Terminal result tokens
	OK              = "OK"
	Connect         = "CONNECT"
	Ring            = "RING"
	NoCarrier       = "NO CARRIER"
	ERROR           = "ERROR"
	NoDialtone      = "NO DIALTONE"
	Busy            = "BUSY"
	NoAnswer        = "NO ANSWER"
	Connect2400RLP  = "CONNECT 2400/RLP"
	Connect4800RLP  = "CONNECT 4800/RLP"
	Connect9600RLP  = "CONNECT 9600/RLP"
	Connect14400RLP = "CONNECT 14400/RLP"
	Alerting        = "ALERTING"
	Dialing         = "DIALING"

	// Unsolicited class tags
	TagNewMessage       = "+CMTI"
	TagRegistration     = "+CREG"
	TagGPRSRegistration = "+CGREG"
	TagIndicator        = "+CIEV"
	TagUSSD             = "+CUSD"
	TagStorageOverflow  = "^SMGO"
	TagCallList         = "^SLCC"

	// TagSeparator divides a class tag from its values.
	TagSeparator = ": "
)

// terminalTokens is the whole-line, case-sensitive vocabulary that closes a
// command's result block.
var terminalTokens = map[string]struct{}{
	OK:              {},
	Connect:         {},
	Ring:            {},
	NoCarrier:       {},
	ERROR:           {},
	NoDialtone:      {},
	Busy:            {},
	NoAnswer:        {},
	Connect2400RLP:  {},
	Connect4800RLP:  {},
	Connect9600RLP:  {},
	Connect14400RLP: {},
	Alerting:        {},
	Dialing:         {},
}

// IsTerminal reports whether line is one of the terminal result tokens.
func IsTerminal(line string) bool {
	_, ok := terminalTokens[line]
	return ok
}

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR, NO CARRIER ...
	TypeURC                       // Tagged asynchronous notifications
	TypeData                      // Anything else
	TypeEmpty                     // Blank separator line
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
