package modem

import "strconv"

// RegistrationStatus is the <stat> field of +CREG.
type RegistrationStatus int

const (
	NotRegistered       RegistrationStatus = 0
	RegisteredHome      RegistrationStatus = 1
	Searching           RegistrationStatus = 2
	RegistrationDenied  RegistrationStatus = 3
	RegistrationUnknown RegistrationStatus = 4
	RegisteredRoaming   RegistrationStatus = 5
)

var registrationNames = map[RegistrationStatus]string{
	NotRegistered:       "not_registered",
	RegisteredHome:      "registered_to_home_network",
	Searching:           "searching",
	RegistrationDenied:  "denied",
	RegistrationUnknown: "unknown",
	RegisteredRoaming:   "roaming",
}

func (s RegistrationStatus) String() string { return enumName(registrationNames, s) }

func (s RegistrationStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CallDirection tells mobile originated from mobile terminated calls.
type CallDirection int

const (
	DirectionUnknown CallDirection = -1
	MobileOriginated CallDirection = 0
	MobileTerminated CallDirection = 1
)

var directionNames = map[CallDirection]string{
	DirectionUnknown: "unknown",
	MobileOriginated: "outgoing",
	MobileTerminated: "incoming",
}

func (d CallDirection) String() string { return enumName(directionNames, d) }

func (d CallDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// CallState is the <stat> field of +CLCC and ^SLCC.
type CallState int

const (
	CallUnknown  CallState = -1
	CallActive   CallState = 0
	CallHeld     CallState = 1
	CallDialing  CallState = 2
	CallAlerting CallState = 3
	CallIncoming CallState = 4
	CallWaiting  CallState = 5
)

var callStateNames = map[CallState]string{
	CallUnknown:  "unknown",
	CallActive:   "active",
	CallHeld:     "held",
	CallDialing:  "dialing",
	CallAlerting: "alerting",
	CallIncoming: "incoming",
	CallWaiting:  "waiting",
}

func (s CallState) String() string { return enumName(callStateNames, s) }

func (s CallState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CallMode is the bearer/teleservice of a call.
type CallMode int

const (
	ModeVoice CallMode = iota
	ModeData
	ModeFax
	ModeVoiceThenDataVoice
	ModeAlternatingVoiceDataVoice
	ModeAlternatingVoiceFaxVoice
	ModeVoiceThenDataData
	ModeAlternatingVoiceDataData
	ModeAlternatingVoiceFaxFax
	ModeUnknown
)

var callModeNames = map[CallMode]string{
	ModeVoice:                     "voice",
	ModeData:                      "data",
	ModeFax:                       "fax",
	ModeVoiceThenDataVoice:        "voice_then_data_voice_mode",
	ModeAlternatingVoiceDataVoice: "alternating_voice_data_voice_mode",
	ModeAlternatingVoiceFaxVoice:  "alternating_voice_fax_voice_mode",
	ModeVoiceThenDataData:         "voice_then_data_data_mode",
	ModeAlternatingVoiceDataData:  "alternating_voice_data_data_mode",
	ModeAlternatingVoiceFaxFax:    "alternating_voice_fax_fax_mode",
	ModeUnknown:                   "unknown",
}

func (m CallMode) String() string { return enumName(callModeNames, m) }

func (m CallMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// NumberType is the type-of-address octet attached to phone numbers.
type NumberType int

const (
	NumberTypeUnknown    NumberType = -1
	NumberRestricted     NumberType = 128
	NumberOtherwise      NumberType = 129
	NumberInternational  NumberType = 145
	NumberNational       NumberType = 161
	NumberASCIIDialing   NumberType = 209
	NumberCommandDialing NumberType = 255
)

var numberTypeNames = map[NumberType]string{
	NumberTypeUnknown:    "unknown",
	NumberRestricted:     "restricted",
	NumberOtherwise:      "otherwise",
	NumberInternational:  "international",
	NumberNational:       "national",
	NumberASCIIDialing:   "ascii_dialing_string",
	NumberCommandDialing: "command_dialing_string",
}

func (t NumberType) String() string { return enumName(numberTypeNames, t) }

func (t NumberType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// CallInfo describes one entry of the current call list.
type CallInfo struct {
	Index      int           `json:"index"`
	Direction  CallDirection `json:"direction"`
	State      CallState     `json:"state"`
	Mode       CallMode      `json:"mode"`
	Multiparty bool          `json:"multiparty"`
	Number     string        `json:"number,omitempty"`
	NumberType NumberType    `json:"number_type"`

	// PhonebookEntry is the matching alpha tag, if any.
	PhonebookEntry string `json:"phonebook_entry,omitempty"`
}

// USSDStatus is the <m> field of +CUSD.
type USSDStatus int

const (
	USSDNoFurtherAction USSDStatus = 0
	USSDFurtherAction   USSDStatus = 1
	USSDTerminated      USSDStatus = 2
	USSDNotSupported    USSDStatus = 4
	USSDTimeout         USSDStatus = 5
)

var ussdNames = map[USSDStatus]string{
	USSDNoFurtherAction: "no_further_action_required",
	USSDFurtherAction:   "further_action_required",
	USSDTerminated:      "terminated_by_network",
	USSDNotSupported:    "operation_not_supported",
	USSDTimeout:         "network_timeout",
}

func (s USSDStatus) String() string { return enumName(ussdNames, s) }

func (s USSDStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// OverflowStatus is the <n> field of ^SMGO.
type OverflowStatus int

const (
	OverflowUnknown     OverflowStatus = -1
	OverflowSpaceFree   OverflowStatus = 0
	OverflowBufferFull  OverflowStatus = 1
	OverflowMessageLost OverflowStatus = 2
)

var overflowNames = map[OverflowStatus]string{
	OverflowUnknown:     "unknown",
	OverflowSpaceFree:   "space_available",
	OverflowBufferFull:  "buffer_full",
	OverflowMessageLost: "buffer_full_message_waiting",
}

func (s OverflowStatus) String() string { return enumName(overflowNames, s) }

func (s OverflowStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ServiceStatus is the <srvState> of an Internet service profile.
type ServiceStatus int

const (
	ServiceUnknown    ServiceStatus = 0
	ServiceAllocated  ServiceStatus = 2
	ServiceConnecting ServiceStatus = 3
	ServiceUp         ServiceStatus = 4
	ServiceClosing    ServiceStatus = 5
	ServiceDown       ServiceStatus = 6
	ServiceAlert      ServiceStatus = 7
	ServiceConnected  ServiceStatus = 8
	ServiceReleased   ServiceStatus = 9
)

var serviceNames = map[ServiceStatus]string{
	ServiceUnknown:    "unknown",
	ServiceAllocated:  "allocated",
	ServiceConnecting: "connecting",
	ServiceUp:         "up",
	ServiceClosing:    "closing",
	ServiceDown:       "down",
	ServiceAlert:      "alert",
	ServiceConnected:  "connected",
	ServiceReleased:   "released",
}

func (s ServiceStatus) String() string { return enumName(serviceNames, s) }

func (s ServiceStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConnectionStatus is the <conState> of a connection profile.
type ConnectionStatus int

const (
	ConnectionDown ConnectionStatus = iota
	ConnectionConnecting
	ConnectionUp
	ConnectionLimitedUp
	ConnectionClosing
	ConnectionUnknown
)

var connectionNames = map[ConnectionStatus]string{
	ConnectionDown:       "down",
	ConnectionConnecting: "connecting",
	ConnectionUp:         "up",
	ConnectionLimitedUp:  "limited_up",
	ConnectionClosing:    "closing",
	ConnectionUnknown:    "unknown",
}

func (s ConnectionStatus) String() string { return enumName(connectionNames, s) }

func (s ConnectionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ReadStatus summarises one ^SISR call.
type ReadStatus int

const (
	ReadFinished    ReadStatus = -2
	ReadUnsupported ReadStatus = -1
	ReadNoData      ReadStatus = 0
	ReadAvailable   ReadStatus = 1
)

var readNames = map[ReadStatus]string{
	ReadFinished:    "finished",
	ReadUnsupported: "unsupported",
	ReadNoData:      "no_data",
	ReadAvailable:   "available",
}

func (s ReadStatus) String() string { return enumName(readNames, s) }

// ServiceInfo is one ^SISI row.
type ServiceInfo struct {
	ProfileID int           `json:"profile_id"`
	Status    ServiceStatus `json:"status"`
	RxCount   int           `json:"rx_count"`
	TxCount   int           `json:"tx_count"`
	Acked     int           `json:"acked"`
	Unacked   int           `json:"unacked"`
}

// ServiceError is the ^SISE snapshot of a service profile.
type ServiceError struct {
	ProfileID int    `json:"profile_id"`
	ID        int    `json:"id"`
	Text      string `json:"text,omitempty"`
}

// ConnectionInfo is one ^SICI row.
type ConnectionInfo struct {
	ProfileID int              `json:"profile_id"`
	Status    ConnectionStatus `json:"status"`
	Services  int              `json:"services"`
	IPAddress string           `json:"ip_address"`
}

// ReadResult is the outcome of a single ^SISR call.
type ReadResult struct {
	Status ReadStatus
	Data   string
}

func enumName[T ~int](names map[T]string, v T) string {
	if n, ok := names[v]; ok {
		return n
	}
	return strconv.Itoa(int(v))
}
