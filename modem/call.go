package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/bgs2/at"
)

// Dial starts a voice call to number.
func (m *Modem) Dial(ctx context.Context, number string) error {
	_, err := m.run(ctx, "ATD"+number+";")
	return err
}

// DialStored calls the entry at location of a phonebook storage.
func (m *Modem) DialStored(ctx context.Context, storage PhonebookStorage, location string) error {
	_, err := m.run(ctx, "ATD>"+string(storage)+location+";")
	return err
}

// DialMemory calls a location or name in the active phonebook.
func (m *Modem) DialMemory(ctx context.Context, locationOrName string) error {
	_, err := m.run(ctx, "ATD>"+locationOrName+";")
	return err
}

func (m *Modem) HangUp(ctx context.Context) error {
	_, err := m.run(ctx, "ATH")
	return err
}

func (m *Modem) Answer(ctx context.Context) error {
	_, err := m.run(ctx, "ATA")
	return err
}

// CurrentCalls lists the calls known to the device.
func (m *Modem) CurrentCalls(ctx context.Context) ([]CallInfo, error) {
	lines, err := m.run(ctx, "AT+CLCC")
	if err != nil {
		return nil, err
	}
	var calls []CallInfo
	for _, line := range lines {
		tag, values, ok := at.SplitTag(line)
		if !ok || tag != "+CLCC" {
			continue
		}
		call, err := parseCurrentCall(values)
		if err != nil {
			return nil, fmt.Errorf("AT+CLCC: %w", err)
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// LastCallDuration returns the duration of the last call as hh:mm:ss.
func (m *Modem) LastCallDuration(ctx context.Context) (string, error) {
	values, err := m.query(ctx, "AT^SLCD", "^SLCD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(values[0]), nil
}

// TotalCallDuration returns the accumulated call time as hh:mm:ss.
func (m *Modem) TotalCallDuration(ctx context.Context) (string, error) {
	values, err := m.query(ctx, "AT^STCD", "^STCD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(values[0]), nil
}

// parseCurrentCall reads +CLCC values: idx,dir,stat,mode,mpty[,number,type[,alpha]].
func parseCurrentCall(values []string) (CallInfo, error) {
	if len(values) < 5 {
		return CallInfo{}, fmt.Errorf("want at least 5 values, got %d", len(values))
	}
	call, err := parseCallHead(values[:5])
	if err != nil {
		return CallInfo{}, err
	}
	if len(values) >= 7 {
		call.Number = at.Unquote(values[5])
		t, err := atoi(values[6])
		if err != nil {
			return CallInfo{}, err
		}
		call.NumberType = NumberType(t)
	}
	if len(values) == 8 {
		call.PhonebookEntry = at.Unquote(values[7])
	}
	return call, nil
}
