package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/modem/modemtest"
)

func testServer(t *testing.T, dev *modemtest.Device) *Server {
	t.Helper()
	ctrl := gomock.NewController(t)
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(dev, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(discard).
		WithEchoTimeout(time.Second).
		WithATTimeout(5 * time.Second).
		WithQuietPeriod(0).
		WithHandshakeDelay(0).
		WithStartupCommands([]string{}).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error from Start(): %v", err)
	}

	return &Server{
		Logger:  discard,
		Modem:   m,
		Journal: openTestJournal(t),
		Outbox:  testOutbox(m, 0),
	}
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestServerSMS(t *testing.T) {
	rejected := modemtest.Prompt()
	rejected.Response = "\r\nERROR\r\n"
	dev := modemtest.New().
		On(`AT+CMGS="+491701234567"`, modemtest.Prompt("+CMGS: 42")).
		On(`AT+CMGS="+490"`, rejected)
	s := testServer(t, dev)

	t.Run("Sends and returns the reference", func(t *testing.T) {
		w := serve(s, http.MethodPost, "/sms", `{"to":"+491701234567","message":"hello"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got: %d (%s)", w.Code, w.Body)
		}
		var resp struct {
			Reference int `json:"reference"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Reference != 42 {
			t.Errorf("expected reference 42, got: %+v, %v", resp, err)
		}
		if bodies := dev.Bodies(); len(bodies) != 1 || bodies[0] != "hello" {
			t.Errorf("unexpected message bodies: %q", bodies)
		}
	})

	t.Run("Missing fields", func(t *testing.T) {
		w := serve(s, http.MethodPost, "/sms", `{"to":"+4917"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got: %d", w.Code)
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		w := serve(s, http.MethodPost, "/sms", `{`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got: %d", w.Code)
		}
	})

	t.Run("Modem rejects", func(t *testing.T) {
		w := serve(s, http.MethodPost, "/sms", `{"to":"+490","message":"x"}`)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got: %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON error, got content type: %q", ct)
		}
	})

	t.Run("Wrong method", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/sms", "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got: %d", w.Code)
		}
	})
}

func TestServerOutbox(t *testing.T) {
	dev := modemtest.New().On(`AT+CMGS="+4917"`, modemtest.Prompt("+CMGS: 7"))
	s := testServer(t, dev)

	w := serve(s, http.MethodPost, "/outbox", `{"to":"+4917","message":"queued"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got: %d (%s)", w.Code, w.Body)
	}
	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Status != "queued" || resp.ID == "" {
		t.Fatalf("unexpected response: %+v, %v", resp, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Outbox.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for dev.Count(`AT+CMGS="+4917"`) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected queued message to be sent")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStatus(t *testing.T) {
	t.Run("Reports identity and network", func(t *testing.T) {
		dev := modemtest.New().
			On("AT+CGSN", modemtest.OK("359998040000000")).
			On("AT+CREG?", modemtest.OK("+CREG: 2,1")).
			On("AT+CSQ", modemtest.OK("+CSQ: 20,99")).
			On("AT+COPS?", modemtest.OK(`+COPS: 0,0,"Telekom.de"`))
		s := testServer(t, dev)

		w := serve(s, http.MethodGet, "/status", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got: %d (%s)", w.Code, w.Body)
		}
		var resp struct {
			IMEI         string `json:"imei"`
			Registration string `json:"registration"`
			RSSI         int    `json:"rssi"`
			SignalDBm    int    `json:"signal_dbm"`
			Operator     string `json:"operator"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.IMEI != "359998040000000" || resp.RSSI != 20 || resp.SignalDBm != -73 || resp.Operator != "Telekom.de" {
			t.Errorf("unexpected status: %+v", resp)
		}
		if resp.Registration != modem.RegistrationStatus(1).String() {
			t.Errorf("expected registration %q, got: %q", modem.RegistrationStatus(1), resp.Registration)
		}
	})

	t.Run("Query failure", func(t *testing.T) {
		dev := modemtest.New().
			On("AT+CGSN", modemtest.OK("359998040000000")).
			On("AT+CREG?", modemtest.Error())
		s := testServer(t, dev)

		w := serve(s, http.MethodGet, "/status", "")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got: %d", w.Code)
		}
	})
}

func TestServerUSSD(t *testing.T) {
	dev := modemtest.New()
	s := testServer(t, dev)

	t.Run("Accepted", func(t *testing.T) {
		w := serve(s, http.MethodPost, "/ussd", `{"code":"*100#"}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got: %d (%s)", w.Code, w.Body)
		}
		if dev.Count(`AT+CUSD=1,"*100#",15`) != 1 {
			t.Errorf("expected USSD command, got: %q", dev.Commands())
		}
	})

	t.Run("Empty code", func(t *testing.T) {
		w := serve(s, http.MethodPost, "/ussd", `{"code":" "}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got: %d", w.Code)
		}
	})
}

func TestServerEvents(t *testing.T) {
	s := testServer(t, modemtest.New())
	ctx := context.Background()
	for _, ev := range []modem.Event{
		modem.SignalStrengthEvent{Level: "3"},
		modem.SignalStrengthEvent{Level: "4"},
		modem.USSDEvent{Status: modem.USSDNoFurtherAction, Message: "hi"},
	} {
		if _, err := s.Journal.Append(ctx, ev.Kind(), ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	t.Run("Newest first with limit", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/events?limit=2", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got: %d", w.Code)
		}
		var records []struct {
			Kind string `json:"kind"`
		}
		if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 2 || records[0].Kind != "ussd" {
			t.Errorf("unexpected records: %+v", records)
		}
	})

	t.Run("Filtered by kind", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/events?kind=rssi", "")
		var records []json.RawMessage
		if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 rssi records, got: %d", len(records))
		}
	})

	t.Run("Empty result is a list", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/events?kind=call", "")
		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Errorf("expected empty list, got: %s", body)
		}
	})

	t.Run("Invalid limit", func(t *testing.T) {
		for _, limit := range []string{"0", "-1", "many"} {
			w := serve(s, http.MethodGet, "/events?limit="+limit, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("limit %s: expected status 400, got: %d", limit, w.Code)
			}
		}
	})
}

func TestServerHTTPGet(t *testing.T) {
	t.Run("Body returned", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=0", modemtest.OK("^SISI: 0,4,0,0,0,0")).
			On("AT^SISE=0", modemtest.OK("^SISE: 0,0")).
			On("AT^SISR=0,1500",
				modemtest.OK("^SISR: 0,5", "hello"),
				modemtest.OK("^SISR: 0,-2"))
		s := testServer(t, dev)

		w := serve(s, http.MethodPost, "/http", `{"url":"http://example.com/"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got: %d (%s)", w.Code, w.Body)
		}
		var res struct {
			Body    string `json:"body"`
			Aborted bool   `json:"aborted"`
		}
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Body != "hello" || res.Aborted {
			t.Errorf("unexpected result: %+v", res)
		}
		if dev.Count(`AT^SISS=0,address,"http://example.com/"`) != 1 {
			t.Errorf("expected address to be set, got: %q", dev.Commands())
		}
	})

	t.Run("Aborted session", func(t *testing.T) {
		dev := modemtest.New().
			On("AT^SISI=0", modemtest.OK("^SISI: 0,4,0,0,0,0")).
			On("AT^SISE=0", modemtest.OK(`^SISE: 0,20,"host not found"`))
		s := testServer(t, dev)

		w := serve(s, http.MethodPost, "/http", `{"url":"http://example.invalid/"}`)
		if w.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got: %d (%s)", w.Code, w.Body)
		}
	})

	t.Run("Missing URL", func(t *testing.T) {
		s := testServer(t, modemtest.New())
		w := serve(s, http.MethodPost, "/http", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got: %d", w.Code)
		}
	})
}

func TestServerHealth(t *testing.T) {
	s := testServer(t, modemtest.New())
	w := serve(s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("expected ok, got: %d %q", w.Code, w.Body)
	}
}
