package modem

import (
	"context"

	"i4.energy/across/bgs2/at"
)

// ussdDefaultScheme is the GSM 7-bit default alphabet coding scheme.
const ussdDefaultScheme = "15"

// SendUSSD sends a USSD request such as "*100#". The network answer arrives
// later as a USSDEvent.
func (m *Modem) SendUSSD(ctx context.Context, code string) error {
	_, err := m.run(ctx, "AT+CUSD=1,"+at.Quote(code)+","+ussdDefaultScheme)
	return err
}
