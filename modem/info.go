package modem

import (
	"context"
	"fmt"
	"strings"

	"i4.energy/across/bgs2/at"
)

// SignalQuality is the +CSQ reading.
type SignalQuality struct {
	// RSSI is 0..31, 99 when not known.
	RSSI int `json:"rssi"`
	// BitErrorRate is 0..7, 99 when not known.
	BitErrorRate int `json:"ber"`
}

// DBm converts RSSI to dBm. An unknown or undetectable level reads -113.
func (q SignalQuality) DBm() int {
	if q.RSSI == 0 || q.RSSI == 99 {
		return -113
	}
	return 2*q.RSSI - 113
}

// IMEI returns the serial number of the device (AT+CGSN).
func (m *Modem) IMEI(ctx context.Context) (string, error) {
	return m.single(ctx, "AT+CGSN")
}

// IMSI returns the subscriber identity of the SIM (AT+CIMI).
func (m *Modem) IMSI(ctx context.Context) (string, error) {
	return m.single(ctx, "AT+CIMI")
}

// RegistrationStatus reads the network registration state.
func (m *Modem) RegistrationStatus(ctx context.Context) (RegistrationStatus, error) {
	values, err := m.query(ctx, "AT+CREG?", at.TagRegistration)
	if err != nil {
		return RegistrationUnknown, err
	}
	// +CREG: <n>,<stat>[,<lac>,<ci>]
	if len(values) < 2 {
		return RegistrationUnknown, fmt.Errorf("AT+CREG?: %w: %q", ErrUnexpectedResponse, values)
	}
	n, err := atoi(values[1])
	if err != nil {
		return RegistrationUnknown, err
	}
	return RegistrationStatus(n), nil
}

// OperatorName returns the name of the operator the device is registered to.
func (m *Modem) OperatorName(ctx context.Context) (string, error) {
	values, err := m.query(ctx, "AT+COPS?", "+COPS")
	if err != nil {
		return "", err
	}
	if len(values) < 3 {
		return "", nil
	}
	return at.Unquote(values[2]), nil
}

// ServiceProviderName reads the SPN from the SIM.
func (m *Modem) ServiceProviderName(ctx context.Context) (string, error) {
	values, err := m.query(ctx, "AT^SIND=EONS,2", "^SIND")
	if err != nil {
		return "", err
	}
	// ^SIND: eons,<mode>,<indicator>,"<operator>","<spn>"
	if len(values) < 5 {
		return "", fmt.Errorf("AT^SIND=EONS,2: %w: %q", ErrUnexpectedResponse, values)
	}
	return at.Unquote(values[4]), nil
}

// ServiceAvailable reports the "service" indicator.
func (m *Modem) ServiceAvailable(ctx context.Context) (bool, error) {
	values, err := m.query(ctx, "AT^SIND=SERVICE,2", "^SIND")
	if err != nil {
		return false, err
	}
	if len(values) < 3 {
		return false, fmt.Errorf("AT^SIND=SERVICE,2: %w: %q", ErrUnexpectedResponse, values)
	}
	return strings.TrimSpace(values[2]) == "1", nil
}

func (m *Modem) SignalQuality(ctx context.Context) (SignalQuality, error) {
	values, err := m.query(ctx, "AT+CSQ", "+CSQ")
	if err != nil {
		return SignalQuality{}, err
	}
	if len(values) < 2 {
		return SignalQuality{}, fmt.Errorf("AT+CSQ: %w: %q", ErrUnexpectedResponse, values)
	}
	rssi, err := atoi(values[0])
	if err != nil {
		return SignalQuality{}, err
	}
	ber, err := atoi(values[1])
	if err != nil {
		return SignalQuality{}, err
	}
	return SignalQuality{RSSI: rssi, BitErrorRate: ber}, nil
}

// GPRSAttached reports whether the device is attached to the packet domain.
func (m *Modem) GPRSAttached(ctx context.Context) (bool, error) {
	values, err := m.query(ctx, "AT+CGATT?", "+CGATT")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(values[0]) == "1", nil
}

func (m *Modem) SetGPRSAttached(ctx context.Context, attached bool) error {
	cmd := "AT+CGATT=0"
	if attached {
		cmd = "AT+CGATT=1"
	}
	_, err := m.run(ctx, cmd)
	return err
}

// single runs cmd and returns its only payload line.
func (m *Modem) single(ctx context.Context, cmd string) (string, error) {
	lines, err := m.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s: %w: empty payload", cmd, ErrUnexpectedResponse)
}
