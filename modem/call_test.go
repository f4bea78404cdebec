package modem_test

import (
	"context"
	"testing"

	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/modem/modemtest"
)

func TestDial(t *testing.T) {
	dev := modemtest.New()
	m := startModem(t, dev)
	ctx := context.Background()

	if err := m.Dial(ctx, "+491701234567"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.DialStored(ctx, modem.PhonebookSIM, "3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.DialMemory(ctx, "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.HangUp(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, cmd := range []string{"ATD+491701234567;", "ATD>SM3;", "ATD>5;", "ATH"} {
		if dev.Count(cmd) != 1 {
			t.Errorf("expected %s to be sent, got: %q", cmd, dev.Commands())
		}
	}
}

func TestCurrentCalls(t *testing.T) {
	dev := modemtest.New().On("AT+CLCC", modemtest.OK(
		`+CLCC: 1,0,0,0,0,"+4930123",145`,
		`+CLCC: 2,1,5,0,0,"+4940456",145,"Bob"`,
		"+CLCC: 3,1,4,0,0",
	))
	m := startModem(t, dev)

	calls, err := m.CurrentCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []modem.CallInfo{
		{Index: 1, Direction: modem.MobileOriginated, State: modem.CallActive, Mode: modem.ModeVoice, Number: "+4930123", NumberType: modem.NumberInternational},
		{Index: 2, Direction: modem.MobileTerminated, State: modem.CallWaiting, Mode: modem.ModeVoice, Number: "+4940456", NumberType: modem.NumberInternational, PhonebookEntry: "Bob"},
		{Index: 3, Direction: modem.MobileTerminated, State: modem.CallIncoming, Mode: modem.ModeVoice, NumberType: modem.NumberTypeUnknown},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got: %d", len(want), len(calls))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %+v, got: %+v", i, want[i], calls[i])
		}
	}
}

func TestCallDurations(t *testing.T) {
	dev := modemtest.New().
		On("AT^SLCD", modemtest.OK("^SLCD: 00:01:30")).
		On("AT^STCD", modemtest.OK("^STCD: 12:00:05"))
	m := startModem(t, dev)

	if d, err := m.LastCallDuration(context.Background()); err != nil || d != "00:01:30" {
		t.Errorf("unexpected last call duration: %q, %v", d, err)
	}
	if d, err := m.TotalCallDuration(context.Background()); err != nil || d != "12:00:05" {
		t.Errorf("unexpected total call duration: %q, %v", d, err)
	}
}

func TestIncomingCallEvent(t *testing.T) {
	dev := modemtest.New().On("AT+CLCC", modemtest.OK(
		`+CLCC: 1,0,0,0,0,"+4930123",145`,
		`+CLCC: 2,1,4,0,0,"+4940456",145`,
	))
	m := startModem(t, dev)

	dev.Emit("\r\nRING\r\n")

	ev := waitEvent[modem.IncomingCallEvent](t, m)
	if ev.Call.Index != 2 || ev.Call.Number != "+4940456" {
		t.Errorf("expected the incoming call, got: %+v", ev.Call)
	}
}
