package modem_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/modem/modemtest"
)

const (
	siUp         = "^SISI: 1,4,0,0,0,0"
	siDown       = "^SISI: 1,6,0,0,0,0"
	siConnecting = "^SISI: 1,3,0,0,0,0"
	seNone       = "^SISE: 1,0"
)

// sessionDevice scripts profile 1 as up, error free and immediately finished.
// Replies queue up, so tests needing other status replies script their own.
func sessionDevice() *modemtest.Device {
	return modemtest.New().
		On("AT^SISI=1", modemtest.OK(siUp)).
		On("AT^SISE=1", modemtest.OK(seNone)).
		On("AT^SISR=1,1500", modemtest.OK("^SISR: 1,-2"))
}

func withBudget(budget modem.SessionBudget) func(*modem.ConfigBuilder) {
	return func(b *modem.ConfigBuilder) {
		b.WithSessionBudget(budget)
	}
}

var httpProfile = modem.ServiceProfile{ID: 1, Type: modem.ServiceHTTP}

func TestTransferWrite(t *testing.T) {
	t.Run("Data is written in chunks", func(t *testing.T) {
		for _, tc := range []struct {
			name   string
			size   int
			chunks []int
		}{
			{"Exact multiple", 3000, []int{1500, 1500}},
			{"Remainder", 3200, []int{1500, 1500, 200}},
			{"Single chunk", 10, []int{10}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				dev := sessionDevice().
					On("AT^SISW=1,1500", modemtest.Accept(1, 1500)).
					On("AT^SISW=1,200", modemtest.Accept(1, 200)).
					On("AT^SISW=1,10", modemtest.Accept(1, 10))
				m := startModem(t, dev)
				data := bytes.Repeat([]byte("x"), tc.size)

				res, err := m.Transfer(context.Background(), httpProfile, data)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if res.Aborted {
					t.Errorf("expected completed session, got: %+v", res)
				}

				raw := dev.RawWrites()
				if len(raw) != len(tc.chunks) {
					t.Fatalf("expected %d writes, got: %d", len(tc.chunks), len(raw))
				}
				for i, n := range tc.chunks {
					if len(raw[i]) != n {
						t.Errorf("write %d: expected %d bytes, got: %d", i, n, len(raw[i]))
					}
				}
				if !bytes.Equal(bytes.Join(raw, nil), data) {
					t.Error("written data does not match input")
				}
			})
		}
	})

	t.Run("Advances by accepted count", func(t *testing.T) {
		dev := sessionDevice().
			On("AT^SISW=1,1000", modemtest.Accept(1, 600)).
			On("AT^SISW=1,400", modemtest.Accept(1, 400))
		m := startModem(t, dev)
		data := make([]byte, 1000)
		for i := range data {
			data[i] = byte('a' + i%26)
		}

		if _, err := m.Transfer(context.Background(), httpProfile, data); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		raw := dev.RawWrites()
		if len(raw) != 2 || len(raw[0]) != 600 || len(raw[1]) != 400 {
			t.Fatalf("expected writes of 600 and 400 bytes, got: %d", len(raw))
		}
		if !bytes.Equal(bytes.Join(raw, nil), data) {
			t.Error("written data does not match input")
		}
	})

	t.Run("Stalled writes abort", func(t *testing.T) {
		dev := sessionDevice().On("AT^SISW=1,10", modemtest.Accept(1, 0))
		m := startModem(t, dev, withBudget(modem.SessionBudget{MaxStalledWrites: 2}))

		res, err := m.Transfer(context.Background(), httpProfile, make([]byte, 10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !res.Aborted {
			t.Error("expected aborted session")
		}
		if n := dev.Count("AT^SISW=1,10"); n != 3 {
			t.Errorf("expected 3 write attempts, got: %d", n)
		}
		if dev.Count("AT^SISR=1,1500") != 0 {
			t.Error("aborted session should not read")
		}
		if dev.Count("AT^SISC=1") != 1 {
			t.Error("expected profile to be closed")
		}
	})

	t.Run("Service going down mid-write aborts", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siUp), modemtest.OK(siDown)).
			On("AT^SISE=1", modemtest.OK(seNone)).
			On("AT^SISW=1,1500", modemtest.Accept(1, 1500))
		m := startModem(t, dev)

		res, err := m.Transfer(context.Background(), httpProfile, make([]byte, 3000))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !res.Aborted || res.Info.Status != modem.ServiceDown {
			t.Errorf("expected abort on down service, got: %+v", res)
		}
		if len(dev.RawWrites()) != 1 {
			t.Errorf("expected a single write before abort, got: %d", len(dev.RawWrites()))
		}
	})
}

func TestTransferRead(t *testing.T) {
	t.Run("Body is assembled across reads", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siUp)).
			On("AT^SISE=1", modemtest.OK(seNone)).
			On("AT^SISR=1,1500",
				modemtest.OK("^SISR: 1,5", "hello"),
				modemtest.OK("^SISR: 1,0"),
				modemtest.OK("^SISR: 1,5", "world"),
				modemtest.OK("^SISR: 1,-2"))
		m := startModem(t, dev)

		res, err := m.Transfer(context.Background(), httpProfile, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if res.Body != "helloworld" {
			t.Errorf("expected body %q, got: %q", "helloworld", res.Body)
		}
		if dev.Count("AT^SISR=1,1500") != 4 {
			t.Errorf("expected 4 reads, got: %d", dev.Count("AT^SISR=1,1500"))
		}
		if len(dev.RawWrites()) != 0 {
			t.Error("nil data should skip the write phase")
		}
	})

	t.Run("Down is tolerated up to the limit", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siUp), modemtest.OK(siDown)).
			On("AT^SISE=1", modemtest.OK(seNone)).
			On("AT^SISR=1,1500", modemtest.OK("^SISR: 1,0"))
		m := startModem(t, dev, withBudget(modem.SessionBudget{MaxDown: 3}))

		res, err := m.Transfer(context.Background(), httpProfile, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if res.Info.Status != modem.ServiceDown {
			t.Errorf("expected last status down, got: %v", res.Info.Status)
		}
		if n := dev.Count("AT^SISI=1"); n != 5 {
			t.Errorf("expected 5 status polls, got: %d", n)
		}
		if n := dev.Count("AT^SISR=1,1500"); n != 3 {
			t.Errorf("expected 3 reads, got: %d", n)
		}
	})

	t.Run("Poll cap ends the read phase", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siUp)).
			On("AT^SISE=1", modemtest.OK(seNone)).
			On("AT^SISR=1,1500", modemtest.OK("^SISR: 1,0"))
		m := startModem(t, dev, withBudget(modem.SessionBudget{MaxReadPolls: 4}))

		if _, err := m.Transfer(context.Background(), httpProfile, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n := dev.Count("AT^SISR=1,1500"); n != 4 {
			t.Errorf("expected 4 reads, got: %d", n)
		}
		if dev.Count("AT^SISC=1") != 1 {
			t.Error("expected profile to be closed")
		}
	})

	t.Run("Service error ends the read phase", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siUp)).
			On("AT^SISE=1", modemtest.OK(seNone), modemtest.OK(`^SISE: 1,21,"Remote peer has closed the connection"`)).
			On("AT^SISR=1,1500", modemtest.OK("^SISR: 1,0"))
		m := startModem(t, dev)

		res, err := m.Transfer(context.Background(), httpProfile, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if res.Error.ID != 21 || res.Error.Text != "Remote peer has closed the connection" {
			t.Errorf("unexpected service error: %+v", res.Error)
		}
		if dev.Count("AT^SISR=1,1500") != 0 {
			t.Error("expected no read after service error")
		}
	})
}

func TestTransferOpen(t *testing.T) {
	t.Run("Open failure still closes the profile", func(t *testing.T) {
		dev := sessionDevice().On("AT^SISO=1", modemtest.Error())
		m := startModem(t, dev)

		_, err := m.Transfer(context.Background(), httpProfile, nil)

		if !errors.Is(err, modem.ErrOpenFailed) {
			t.Errorf("expected ErrOpenFailed, got: %v", err)
		}
		if dev.Count("AT^SISC=1") != 1 {
			t.Error("expected profile to be closed")
		}
	})

	t.Run("Service error after open aborts", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siUp)).
			On("AT^SISE=1", modemtest.OK(`^SISE: 1,20,"Unknown host"`))
		m := startModem(t, dev)

		res, err := m.Transfer(context.Background(), httpProfile, []byte("data"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !res.Aborted || res.Error.ID != 20 {
			t.Errorf("expected abort on service error, got: %+v", res)
		}
		if len(dev.RawWrites()) != 0 || dev.Count("AT^SISR=1,1500") != 0 {
			t.Error("aborted session should neither write nor read")
		}
	})

	t.Run("Connecting is waited out", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siConnecting), modemtest.OK(siConnecting), modemtest.OK(siUp)).
			On("AT^SISE=1", modemtest.OK(seNone)).
			On("AT^SISR=1,1500", modemtest.OK("^SISR: 1,-2"))
		m := startModem(t, dev)

		res, err := m.Transfer(context.Background(), httpProfile, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Aborted {
			t.Errorf("expected completed session, got: %+v", res)
		}
		if dev.Count("AT^SISR=1,1500") != 1 {
			t.Errorf("expected read once up, got: %d", dev.Count("AT^SISR=1,1500"))
		}
	})

	t.Run("Open poll limit aborts", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=1", modemtest.OK(siConnecting)).
			On("AT^SISE=1", modemtest.OK(seNone))
		m := startModem(t, dev, withBudget(modem.SessionBudget{MaxOpenPolls: 3}))

		res, err := m.Transfer(context.Background(), httpProfile, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Aborted {
			t.Error("expected aborted session")
		}
		if n := dev.Count("AT^SISI=1"); n != 3 {
			t.Errorf("expected 3 status polls, got: %d", n)
		}
	})
}

func TestSendMail(t *testing.T) {
	dev := modemtest.New().
		On("AT^SISI=2",
			modemtest.OK("^SISI: 2,3,0,0,0,0"),
			modemtest.OK("^SISI: 2,3,0,0,0,0"),
			modemtest.OK("^SISI: 2,6,0,0,0,0")).
		On("AT^SISE=2", modemtest.OK("^SISE: 2,0")).
		On("AT^SISW=2,8", modemtest.Accept(2, 8))
	m := startModem(t, dev)

	res, err := m.SendMail(context.Background(), modem.Mail{
		Server:  "smtp.example.com",
		User:    "user",
		From:    "gw@example.com",
		To:      "ops@example.com",
		Subject: "alarm",
		Body:    "Hi there",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Aborted {
		t.Errorf("expected completed session, got: %+v", res)
	}
	if raw := dev.RawWrites(); len(raw) != 1 || string(raw[0]) != "Hi there" {
		t.Errorf("expected mail body written once, got: %q", raw)
	}
	if dev.Count("AT^SISW=2,0,1") != 1 {
		t.Error("expected end of data to be signalled")
	}
	if dev.Count("AT^SISR=2,1500") != 0 {
		t.Error("SMTP session should not read")
	}
	for _, cmd := range []string{
		`AT^SISS=2,srvType,"Smtp"`,
		`AT^SISS=2,address,"smtp.example.com"`,
		`AT^SISS=2,smAuth,"1"`,
		`AT^SISS=2,smRcpt,"ops@example.com"`,
		`AT^SISS=2,tcpPort,"25"`,
	} {
		if dev.Count(cmd) != 1 {
			t.Errorf("expected %s to be sent", cmd)
		}
	}
}
