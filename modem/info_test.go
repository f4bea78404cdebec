package modem_test

import (
	"context"
	"errors"
	"testing"

	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/modem/modemtest"
)

func TestInfo(t *testing.T) {
	dev := modemtest.New().
		On("AT+CGSN", modemtest.OK("359998040000000")).
		On("AT+CIMI", modemtest.OK("262011234567890")).
		On("AT+CREG?", modemtest.OK("+CREG: 2,5,\"0F3C\",\"A1B2\"")).
		On("AT+COPS?", modemtest.OK(`+COPS: 0,0,"Telekom.de"`)).
		On("AT^SIND=EONS,2", modemtest.OK(`^SIND: eons,1,0,"Telekom.de","congstar"`)).
		On("AT^SIND=SERVICE,2", modemtest.OK("^SIND: service,1,1")).
		On("AT+CSQ", modemtest.OK("+CSQ: 20,99")).
		On("AT+CGATT?", modemtest.OK("+CGATT: 1"))
	m := startModem(t, dev)
	ctx := context.Background()

	t.Run("IMEI", func(t *testing.T) {
		if imei, err := m.IMEI(ctx); err != nil || imei != "359998040000000" {
			t.Errorf("unexpected IMEI: %q, %v", imei, err)
		}
	})

	t.Run("IMSI", func(t *testing.T) {
		if imsi, err := m.IMSI(ctx); err != nil || imsi != "262011234567890" {
			t.Errorf("unexpected IMSI: %q, %v", imsi, err)
		}
	})

	t.Run("Registration", func(t *testing.T) {
		if status, err := m.RegistrationStatus(ctx); err != nil || status != modem.RegisteredRoaming {
			t.Errorf("expected roaming, got: %v, %v", status, err)
		}
	})

	t.Run("Operator and provider", func(t *testing.T) {
		if op, err := m.OperatorName(ctx); err != nil || op != "Telekom.de" {
			t.Errorf("unexpected operator: %q, %v", op, err)
		}
		if spn, err := m.ServiceProviderName(ctx); err != nil || spn != "congstar" {
			t.Errorf("unexpected provider: %q, %v", spn, err)
		}
	})

	t.Run("Service indicator", func(t *testing.T) {
		if ok, err := m.ServiceAvailable(ctx); err != nil || !ok {
			t.Errorf("expected service available, got: %v, %v", ok, err)
		}
	})

	t.Run("Signal quality", func(t *testing.T) {
		q, err := m.SignalQuality(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.RSSI != 20 || q.BitErrorRate != 99 || q.DBm() != -73 {
			t.Errorf("unexpected signal quality: %+v (%d dBm)", q, q.DBm())
		}
	})

	t.Run("GPRS attach", func(t *testing.T) {
		if ok, err := m.GPRSAttached(ctx); err != nil || !ok {
			t.Errorf("expected attached, got: %v, %v", ok, err)
		}
		if err := m.SetGPRSAttached(ctx, false); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if dev.Count("AT+CGATT=0") != 1 {
			t.Error("expected detach command")
		}
	})
}

func TestInfoErrors(t *testing.T) {
	dev := modemtest.New().
		On("AT+CGSN", modemtest.OK()).
		On("AT+CSQ", modemtest.Error()).
		On("AT+COPS?", modemtest.OK("+COPS: 2"))
	m := startModem(t, dev)
	ctx := context.Background()

	if _, err := m.IMEI(ctx); !errors.Is(err, modem.ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got: %v", err)
	}

	var cmdErr *modem.CommandError
	if _, err := m.SignalQuality(ctx); !errors.As(err, &cmdErr) {
		t.Errorf("expected CommandError, got: %v", err)
	}

	if op, err := m.OperatorName(ctx); err != nil || op != "" {
		t.Errorf("expected no operator while deregistered, got: %q, %v", op, err)
	}
}

func TestSignalQualityDBm(t *testing.T) {
	for rssi, want := range map[int]int{0: -113, 1: -111, 31: -51, 99: -113} {
		if got := (modem.SignalQuality{RSSI: rssi}).DBm(); got != want {
			t.Errorf("rssi %d: expected %d dBm, got: %d", rssi, want, got)
		}
	}
}

func TestUSSD(t *testing.T) {
	dev := modemtest.New().On(`AT+CUSD=1,"*100#",15`, modemtest.Reply{
		Response: "\r\nOK\r\n\r\n+CUSD: 0,\"Balance 5.00 EUR\",15\r\n",
	})
	m := startModem(t, dev)

	if err := m.SendUSSD(context.Background(), "*100#"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := waitEvent[modem.USSDEvent](t, m)
	if ev.Message != "Balance 5.00 EUR" || ev.Status != modem.USSDNoFurtherAction {
		t.Errorf("unexpected event: %+v", ev)
	}
}
