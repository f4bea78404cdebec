package modem

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warthog618/sms/encoding/ucs2"
	"i4.energy/across/bgs2/at"
)

// ussdUCS2 is the data coding scheme of USSD text sent as UCS2 hex.
const ussdUCS2 = "72"

// dispatchLoop drains the unsolicited queue. A message that fails to decode
// is logged and dropped; it never stops the loop.
func (m *Modem) dispatchLoop(ctx context.Context) error {
	for {
		line, err := m.urc.pop(ctx)
		if err != nil {
			return err
		}
		if err := m.dispatch(ctx, line); err != nil {
			m.logger.Debug("Dropping unsolicited message", "line", line, "error", err)
		}
	}
}

func (m *Modem) dispatch(ctx context.Context, line string) error {
	switch at.Classify(line) {
	case at.TypeEmpty:
		return nil
	case at.TypeFinal:
		// Stray result codes; only RING needs action
		if line == at.Ring {
			return m.announceIncomingCall(ctx)
		}
		return nil
	case at.TypeData:
		m.logger.Debug("Ignoring unsolicited data", "line", line)
		return nil
	}

	tag, values, _ := at.SplitTag(line)
	switch tag {
	case at.TagNewMessage:
		return m.announceSMS(ctx, values)
	case at.TagGPRSRegistration:
		return nil
	}

	ev, err := decodeURC(tag, values, line)
	if err != nil {
		return err
	}
	if ev != nil {
		m.emit(ev)
	}
	return nil
}

// announceSMS peeks the new message without marking it read.
func (m *Modem) announceSMS(ctx context.Context, values []string) error {
	if len(values) != 2 {
		return fmt.Errorf("%s: want 2 values, got %d", at.TagNewMessage, len(values))
	}
	id := strings.TrimSpace(values[1])
	storage := SMSStorage(at.Unquote(values[0]))

	sms, err := m.PeekSMS(ctx, id)
	if err != nil {
		m.logger.Debug("Peek of new message failed", "id", id, "error", err)
		sms = SMS{}
	}
	sms.ID = id
	m.emit(NewSMSEvent{Storage: storage, SMS: sms})
	return nil
}

func (m *Modem) announceIncomingCall(ctx context.Context) error {
	calls, err := m.CurrentCalls(ctx)
	if err != nil {
		return fmt.Errorf("list calls after RING: %w", err)
	}
	for _, call := range calls {
		if call.State == CallIncoming {
			m.emit(IncomingCallEvent{Call: call})
			return nil
		}
	}
	return nil
}

// decodeURC turns a tagged unsolicited line into an event. A nil event with a
// nil error means the line is understood but not reported.
func decodeURC(tag string, values []string, line string) (Event, error) {
	switch tag {
	case at.TagRegistration:
		return decodeRegistration(values)
	case at.TagIndicator:
		return decodeIndicator(values)
	case at.TagUSSD:
		return decodeUSSD(values, line)
	case at.TagStorageOverflow:
		n, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil {
			return nil, fmt.Errorf("%s status: %w", tag, err)
		}
		return StorageOverflowEvent{Status: OverflowStatus(n)}, nil
	case at.TagCallList:
		if len(values) <= 1 {
			// an empty ^SLCC closes the list
			return nil, nil
		}
		call, err := parseCallList(values)
		if err != nil {
			return nil, err
		}
		return CallListEvent{Call: call}, nil
	}
	return nil, nil
}

func decodeRegistration(values []string) (Event, error) {
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return nil, fmt.Errorf("registration status: %w", err)
	}
	ev := RegistrationEvent{Status: RegistrationStatus(n), LAC: "-1", CellID: "-1"}
	if len(values) == 1 {
		return ev, nil
	}
	if len(values) < 3 {
		return nil, fmt.Errorf("registration: want 1 or 3 values, got %d", len(values))
	}
	ev.LAC = at.Unquote(values[1])
	ev.CellID = at.Unquote(values[2])
	return ev, nil
}

func decodeIndicator(values []string) (Event, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("indicator: want at least 2 values, got %d", len(values))
	}
	name, value := values[0], values[1]
	switch name {
	case "signal":
		return SignalEvent{BitErrorRate: value}, nil
	case "service", "sounder", "message", "call", "roam", "smsfull", "audio", "simtray":
		return IndicatorEvent{Name: name, Active: value != "0"}, nil
	case "rssi":
		if value == "99" {
			value = "0"
		}
		return SignalStrengthEvent{Level: value}, nil
	case "eons":
		if len(values) < 4 {
			return nil, fmt.Errorf("eons: want 4 values, got %d", len(values))
		}
		return OperatorNameEvent{Operator: at.Unquote(values[2]), Provider: at.Unquote(values[3])}, nil
	case "nitz":
		t, err := parseNITZ(values)
		if err != nil {
			return nil, err
		}
		return NetworkTimeEvent{Time: t}, nil
	}
	return nil, nil
}

// parseNITZ reads `nitz,"yy/MM/dd,hh:mm:ss",±tz,dst`. The zone is counted in
// quarter hours and added to the reported time.
func parseNITZ(values []string) (time.Time, error) {
	if len(values) <= 3 {
		return time.Time{}, fmt.Errorf("nitz: want 4 values, got %d", len(values))
	}
	date := strings.Trim(values[1], `"`)
	clock := strings.Trim(values[2], `"`)
	t, err := time.Parse("06/01/02 15:04:05", date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("nitz time: %w", err)
	}
	quarters, err := strconv.Atoi(strings.TrimSpace(values[3]))
	if err != nil {
		return time.Time{}, fmt.Errorf("nitz zone: %w", err)
	}
	return t.Add(time.Duration(quarters) * 15 * time.Minute), nil
}

// decodeUSSD takes the message between the first and last quote. UCS2 text is
// hex encoded and flagged by the coding scheme after the closing quote.
func decodeUSSD(values []string, line string) (Event, error) {
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return nil, fmt.Errorf("ussd status: %w", err)
	}
	ev := USSDEvent{Status: USSDStatus(n)}

	first := strings.IndexByte(line, '"')
	last := strings.LastIndexByte(line, '"')
	if first < 0 || last <= first {
		return ev, nil
	}
	ev.Message = line[first+1 : last]

	dcs := strings.TrimSpace(strings.TrimPrefix(line[last+1:], ","))
	if dcs == ussdUCS2 {
		text, err := decodeUCS2Hex(ev.Message)
		if err != nil {
			return nil, fmt.Errorf("ussd text: %w", err)
		}
		ev.Message = text
	}
	return ev, nil
}

func decodeUCS2Hex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	runes, err := ucs2.Decode(raw)
	if err != nil {
		return "", err
	}
	return string(runes), nil
}

// parseCallList reads ^SLCC values: idx,dir,stat,mode,mpty,tch[,number,type[,alpha]].
func parseCallList(values []string) (CallInfo, error) {
	if len(values) < 5 {
		return CallInfo{}, fmt.Errorf("call list: want at least 5 values, got %d", len(values))
	}
	call, err := parseCallHead(values[:5])
	if err != nil {
		return CallInfo{}, err
	}
	if len(values) >= 8 {
		call.Number = at.Unquote(values[6])
		t, err := strconv.Atoi(strings.TrimSpace(values[7]))
		if err != nil {
			return CallInfo{}, fmt.Errorf("call number type: %w", err)
		}
		call.NumberType = NumberType(t)
	}
	if len(values) == 9 {
		call.PhonebookEntry = at.Unquote(values[8])
	}
	return call, nil
}

// parseCallHead reads the common idx,dir,stat,mode,mpty prefix of a call row.
func parseCallHead(values []string) (CallInfo, error) {
	var n [5]int
	for i := range n {
		v, err := strconv.Atoi(strings.TrimSpace(values[i]))
		if err != nil {
			return CallInfo{}, fmt.Errorf("call field %d: %w", i, err)
		}
		n[i] = v
	}
	return CallInfo{
		Index:      n[0],
		Direction:  CallDirection(n[1]),
		State:      CallState(n[2]),
		Mode:       CallMode(n[3]),
		Multiparty: n[4] != 0,
		NumberType: NumberTypeUnknown,
	}, nil
}
