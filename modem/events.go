package modem

import "time"

// Event is a decoded unsolicited notification. Receive them from
// Modem.Events and switch on the concrete type.
type Event interface {
	// Kind is a short stable name, usable as a topic suffix.
	Kind() string
}

// NewSMSEvent reports a message stored after +CMTI. When peeking the message
// fails only SMS.ID is set.
type NewSMSEvent struct {
	Storage SMSStorage `json:"storage"`
	SMS     SMS        `json:"sms"`
}

// RegistrationEvent reports a +CREG change. LAC and CellID are "-1" when the
// device did not report location.
type RegistrationEvent struct {
	Status RegistrationStatus `json:"status"`
	LAC    string             `json:"lac"`
	CellID string             `json:"cell_id"`
}

// IndicatorEvent reports an on/off indicator from the +CIEV bank: service,
// sounder, message, call, roam, smsfull, audio or simtray.
type IndicatorEvent struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// SignalEvent carries the "signal" indicator, the bit error rate class.
type SignalEvent struct {
	BitErrorRate string `json:"bit_error_rate"`
}

// SignalStrengthEvent carries the "rssi" indicator. Level is "0" when the
// device reports 99 (not detectable).
type SignalStrengthEvent struct {
	Level string `json:"level"`
}

// OperatorNameEvent carries the "eons" indicator: network name and SIM provider.
type OperatorNameEvent struct {
	Operator string `json:"operator"`
	Provider string `json:"provider"`
}

// NetworkTimeEvent carries NITZ time with the reported zone offset applied.
type NetworkTimeEvent struct {
	Time time.Time `json:"time"`
}

// USSDEvent is a network answer to SendUSSD or a network-initiated USSD message.
type USSDEvent struct {
	Status  USSDStatus `json:"status"`
	Message string     `json:"message"`
}

// StorageOverflowEvent reports the ^SMGO message buffer state.
type StorageOverflowEvent struct {
	Status OverflowStatus `json:"status"`
}

// CallListEvent is one ^SLCC entry.
type CallListEvent struct {
	Call CallInfo `json:"call"`
}

// IncomingCallEvent is raised on RING for the first call in state incoming.
type IncomingCallEvent struct {
	Call CallInfo `json:"call"`
}

func (NewSMSEvent) Kind() string          { return "sms" }
func (RegistrationEvent) Kind() string    { return "registration" }
func (IndicatorEvent) Kind() string       { return "indicator" }
func (SignalEvent) Kind() string          { return "signal" }
func (SignalStrengthEvent) Kind() string  { return "rssi" }
func (OperatorNameEvent) Kind() string    { return "operator" }
func (NetworkTimeEvent) Kind() string     { return "network_time" }
func (USSDEvent) Kind() string            { return "ussd" }
func (StorageOverflowEvent) Kind() string { return "storage_overflow" }
func (CallListEvent) Kind() string        { return "call_list" }
func (IncomingCallEvent) Kind() string    { return "incoming_call" }
