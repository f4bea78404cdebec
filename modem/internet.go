package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/looplab/fsm"
	"i4.energy/across/bgs2/at"
)

// SessionBudget bounds the polling loops of an Internet session. Zero fields
// take the defaults.
type SessionBudget struct {
	// ChunkSize is the largest single read or write, 1500 bytes by default.
	ChunkSize int
	// MaxDown is how many "down" readings the read phase tolerates.
	MaxDown int
	// MaxReadPolls caps the read phase iterations.
	MaxReadPolls int
	// MaxOpenPolls caps the wait for a usable service after open.
	MaxOpenPolls int
	// MaxStalledWrites caps consecutive writes the device accepts nothing of.
	MaxStalledWrites int
	// PollInterval is slept between status polls.
	PollInterval time.Duration
}

func (b SessionBudget) withDefaults() SessionBudget {
	if b.ChunkSize <= 0 {
		b.ChunkSize = 1500
	}
	if b.MaxDown <= 0 {
		b.MaxDown = 3
	}
	if b.MaxReadPolls <= 0 {
		b.MaxReadPolls = 30
	}
	if b.MaxOpenPolls <= 0 {
		b.MaxOpenPolls = 60
	}
	if b.MaxStalledWrites <= 0 {
		b.MaxStalledWrites = 30
	}
	if b.PollInterval < 0 {
		b.PollInterval = 0
	}
	return b
}

// SessionResult is what an Internet session leaves behind: the last status
// snapshot, the last service error and whatever body was read.
type SessionResult struct {
	Info  ServiceInfo  `json:"info"`
	Error ServiceError `json:"error"`
	Body  string       `json:"body"`
	// Aborted is set when a phase stopped on a service error or an unusable
	// status.
	Aborted bool `json:"aborted"`
}

// Mail describes a message sent through the SMTP profile.
type Mail struct {
	Server   string
	User     string
	Password string
	From     string
	To       string
	Subject  string
	Body     string
}

// POPAccount is a mailbox reached through the POP3 profile.
type POPAccount struct {
	Server   string
	User     string
	Password string
}

// Profile slots used by the request helpers. Each helper overwrites its slot.
const (
	httpGetProfile  = 0
	httpPostProfile = 1
	smtpProfile     = 2
	popProfile      = 3
)

// POPAllMessages addresses every message in a POP3 mailbox.
const POPAllMessages = "0"

const soapProperties = `Content-Type:\20application/soap+xml\3b\20charset=utf-8`

// ConnectionInfo lists the state of every connection profile.
func (m *Modem) ConnectionInfo(ctx context.Context) ([]ConnectionInfo, error) {
	lines, err := m.run(ctx, "AT^SICI?")
	if err != nil {
		return nil, err
	}
	var out []ConnectionInfo
	for _, line := range lines {
		tag, values, ok := at.SplitTag(line)
		if !ok || tag != "^SICI" || len(values) < 4 {
			continue
		}
		var n [3]int
		for i := range n {
			if n[i], err = atoi(values[i]); err != nil {
				return nil, fmt.Errorf("AT^SICI?: %w", err)
			}
		}
		out = append(out, ConnectionInfo{
			ProfileID: n[0],
			Status:    ConnectionStatus(n[1]),
			Services:  n[2],
			IPAddress: at.Unquote(values[3]),
		})
	}
	return out, nil
}

// ServiceInfo fetches a fresh status snapshot of service profile id.
func (m *Modem) ServiceInfo(ctx context.Context, id int) (ServiceInfo, error) {
	cmd := "AT^SISI=" + strconv.Itoa(id)
	values, err := m.query(ctx, cmd, "^SISI")
	if err != nil {
		return ServiceInfo{}, err
	}
	if len(values) < 5 {
		return ServiceInfo{}, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, values)
	}
	n := make([]int, len(values))
	for i := 1; i < len(values) && i < 6; i++ {
		if n[i], err = atoi(values[i]); err != nil {
			return ServiceInfo{}, fmt.Errorf("%s: %w", cmd, err)
		}
	}
	info := ServiceInfo{
		ProfileID: id,
		Status:    ServiceStatus(n[1]),
		RxCount:   n[2],
		TxCount:   n[3],
		Acked:     n[4],
	}
	if len(values) >= 6 {
		info.Unacked = n[5]
	}
	return info, nil
}

// ServiceError fetches the last error of service profile id. ID 0 means none.
func (m *Modem) ServiceError(ctx context.Context, id int) (ServiceError, error) {
	cmd := "AT^SISE=" + strconv.Itoa(id)
	values, err := m.query(ctx, cmd, "^SISE")
	if err != nil {
		return ServiceError{}, err
	}
	if len(values) < 2 {
		return ServiceError{}, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, values)
	}
	code, err := atoi(values[1])
	if err != nil {
		return ServiceError{}, fmt.Errorf("%s: %w", cmd, err)
	}
	se := ServiceError{ProfileID: id, ID: code}
	if len(values) >= 3 {
		se.Text = at.Unquote(strings.Join(values[2:], ","))
	}
	return se, nil
}

func (m *Modem) OpenService(ctx context.Context, id int) error {
	_, err := m.run(ctx, "AT^SISO="+strconv.Itoa(id))
	return err
}

func (m *Modem) CloseService(ctx context.Context, id int) error {
	_, err := m.run(ctx, "AT^SISC="+strconv.Itoa(id))
	return err
}

// ServiceRead asks for at most size bytes. A refused read reports
// ReadFinished.
func (m *Modem) ServiceRead(ctx context.Context, id, size int) (ReadResult, error) {
	cmd := fmt.Sprintf("AT^SISR=%d,%d", id, size)
	lines, err := m.run(ctx, cmd)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return ReadResult{Status: ReadFinished}, nil
	}
	if err != nil {
		return ReadResult{}, err
	}
	if len(lines) == 0 {
		return ReadResult{Status: ReadFinished}, nil
	}
	tag, values, ok := at.SplitTag(lines[0])
	if !ok || tag != "^SISR" || len(values) < 2 {
		return ReadResult{}, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, lines[0])
	}
	n, err := atoi(values[1])
	if err != nil {
		return ReadResult{}, fmt.Errorf("%s: %w", cmd, err)
	}
	switch {
	case n > 0 && len(lines) > 1:
		return ReadResult{Status: ReadAvailable, Data: strings.Join(lines[1:], at.CRLF)}, nil
	case n > 0:
		return ReadResult{Status: ReadNoData}, nil
	default:
		return ReadResult{Status: ReadStatus(n)}, nil
	}
}

// ServiceWrite offers data to service profile id and returns how many bytes
// the device accepted. Only the accepted prefix is sent.
func (m *Modem) ServiceWrite(ctx context.Context, id int, data []byte) (int, error) {
	cmd := fmt.Sprintf("AT^SISW=%d,%d", id, len(data))
	accepted := -1
	send := func(lines []string) []byte {
		accepted = acceptedBytes(lines)
		if accepted <= 0 {
			return nil
		}
		return data[:min(accepted, len(data))]
	}
	if _, err := m.run(ctx, cmd, WithTrailingWrite(send)); err != nil {
		return 0, err
	}
	if accepted < 0 {
		return 0, fmt.Errorf("%s: %w: no ^SISW line", cmd, ErrUnexpectedResponse)
	}
	return min(accepted, len(data)), nil
}

// acceptedBytes reads the count from `^SISW: id,n[,unacked]`, -1 when absent.
func acceptedBytes(lines []string) int {
	for _, line := range lines {
		tag, values, ok := at.SplitTag(line)
		if !ok || tag != "^SISW" || len(values) < 2 {
			continue
		}
		if n, err := atoi(values[1]); err == nil {
			return n
		}
	}
	return -1
}

// endOfData marks the end of an SMTP message body.
func (m *Modem) endOfData(ctx context.Context, id int) error {
	_, err := m.run(ctx, fmt.Sprintf("AT^SISW=%d,0,1", id))
	return err
}

// HTTPGet fetches url through service profile 0 on connection profile 0.
func (m *Modem) HTTPGet(ctx context.Context, url string) (SessionResult, error) {
	p := ServiceProfile{
		ID:             httpGetProfile,
		Type:           ServiceHTTP,
		Method:         MethodGet,
		Address:        url,
		HTTPContentLen: "0",
	}
	return m.setAndTransfer(ctx, p, nil)
}

// HTTPPost posts data to url through service profile 1. headers may be nil.
func (m *Modem) HTTPPost(ctx context.Context, url string, headers *HTTPHeaders, data []byte) (SessionResult, error) {
	p := ServiceProfile{
		ID:             httpPostProfile,
		Type:           ServiceHTTP,
		Method:         MethodPost,
		Address:        url,
		HTTPContentLen: strconv.Itoa(len(data)),
		HTTPProperties: headers.String(),
	}
	return m.setAndTransfer(ctx, p, data)
}

// SOAP posts an XML envelope to url as application/soap+xml.
func (m *Modem) SOAP(ctx context.Context, url, envelope string) (SessionResult, error) {
	p := ServiceProfile{
		ID:             httpPostProfile,
		Type:           ServiceHTTP,
		Method:         MethodPost,
		Address:        url,
		HTTPContentLen: strconv.Itoa(len(envelope)),
		HTTPProperties: soapProperties,
	}
	return m.setAndTransfer(ctx, p, []byte(envelope))
}

// SendMail submits mail through service profile 2 with SMTP authentication on
// port 25.
func (m *Modem) SendMail(ctx context.Context, mail Mail) (SessionResult, error) {
	p := ServiceProfile{
		ID:            smtpProfile,
		Type:          ServiceSMTP,
		Address:       mail.Server,
		User:          mail.User,
		Password:      mail.Password,
		SMTPFrom:      mail.From,
		SMTPRecipient: mail.To,
		SMTPSubject:   mail.Subject,
		SMTPAuth:      "1",
		Alphabet:      AlphabetReference,
		TCPPort:       "25",
	}
	return m.setAndTransfer(ctx, p, []byte(mail.Body))
}

// POP3List lists message id, or every message for POPAllMessages.
func (m *Modem) POP3List(ctx context.Context, acct POPAccount, id string) (SessionResult, error) {
	return m.pop3(ctx, acct, POPList, id, "")
}

// POP3Retrieve downloads message id and deletes it from the server when
// remove is set.
func (m *Modem) POP3Retrieve(ctx context.Context, acct POPAccount, id string, remove bool) (SessionResult, error) {
	flag := "0"
	if remove {
		flag = "1"
	}
	return m.pop3(ctx, acct, POPRetrieve, id, flag)
}

func (m *Modem) POP3Delete(ctx context.Context, acct POPAccount, id string) (SessionResult, error) {
	return m.pop3(ctx, acct, POPDelete, id, "")
}

func (m *Modem) pop3(ctx context.Context, acct POPAccount, cmd POPCommand, id, deleteFlag string) (SessionResult, error) {
	p := ServiceProfile{
		ID:         popProfile,
		Type:       ServicePOP3,
		Address:    acct.Server,
		User:       acct.User,
		Password:   acct.Password,
		POPCommand: cmd,
		POPNumber:  id,
		POPDelete:  deleteFlag,
		SMTPAuth:   "1",
		Alphabet:   AlphabetReference,
		TCPPort:    "110",
	}
	return m.setAndTransfer(ctx, p, nil)
}

func (m *Modem) setAndTransfer(ctx context.Context, p ServiceProfile, data []byte) (SessionResult, error) {
	if err := m.SetServiceProfile(ctx, p); err != nil {
		return SessionResult{}, err
	}
	return m.Transfer(ctx, p, data)
}

// Transfer runs one session on an already configured service profile: open,
// wait until usable, write data when given, read the reply, close. SMTP
// sessions are usable while still connecting and skip reading.
//
// A session that aborts on a service error or status returns its last
// snapshot with Aborted set and a nil error. Errors are reserved for failed
// commands; the profile is closed in every case.
func (m *Modem) Transfer(ctx context.Context, p ServiceProfile, data []byte) (SessionResult, error) {
	s := &session{
		m:      m,
		id:     p.ID,
		smtp:   p.Type == ServiceSMTP,
		budget: m.config.session,
		logger: m.logger.With("profile", p.ID, "service", string(p.Type)),
	}
	s.phase = fsm.NewFSM(
		phaseIdle,
		fsm.Events{
			{Name: phaseOpen, Src: []string{phaseIdle}, Dst: phaseOpen},
			{Name: phaseWrite, Src: []string{phaseOpen}, Dst: phaseWrite},
			{Name: phaseRead, Src: []string{phaseOpen, phaseWrite}, Dst: phaseRead},
			{Name: phaseClosed, Src: []string{phaseIdle, phaseOpen, phaseWrite, phaseRead}, Dst: phaseClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("Session phase", "from", e.Src, "to", e.Dst)
			},
		},
	)
	defer s.close(ctx)

	if err := s.enter(ctx, phaseOpen); err != nil {
		return s.result, err
	}
	if err := m.OpenService(ctx, s.id); err != nil {
		return s.result, fmt.Errorf("%w: profile %d: %w", ErrOpenFailed, s.id, err)
	}
	usable, err := s.awaitUsable(ctx)
	if err != nil || !usable {
		return s.result, err
	}

	if data != nil {
		if err := s.enter(ctx, phaseWrite); err != nil {
			return s.result, err
		}
		done, err := s.write(ctx, data)
		if err != nil || !done {
			return s.result, err
		}
	}

	if err := s.enter(ctx, phaseRead); err != nil {
		return s.result, err
	}
	err = s.read(ctx)
	return s.result, err
}

// Session phases.
const (
	phaseIdle   = "idle"
	phaseOpen   = "open"
	phaseWrite  = "write"
	phaseRead   = "read"
	phaseClosed = "closed"
)

type session struct {
	m      *Modem
	id     int
	smtp   bool
	budget SessionBudget
	logger *slog.Logger
	phase  *fsm.FSM
	result SessionResult
	body   strings.Builder
}

func (s *session) enter(ctx context.Context, phase string) error {
	if err := s.phase.Event(ctx, phase); err != nil {
		return fmt.Errorf("session phase %s: %w", phase, err)
	}
	return nil
}

// poll refreshes the status snapshot and the last error.
func (s *session) poll(ctx context.Context) error {
	info, err := s.m.ServiceInfo(ctx, s.id)
	if err != nil {
		return fmt.Errorf("poll service %d: %w", s.id, err)
	}
	serr, err := s.m.ServiceError(ctx, s.id)
	if err != nil {
		return fmt.Errorf("poll service %d: %w", s.id, err)
	}
	s.result.Info = info
	s.result.Error = serr
	return nil
}

func (s *session) abort(reason string) {
	s.result.Aborted = true
	s.logger.Debug("Session aborted", "phase", s.phase.Current(), "reason", reason,
		"status", s.result.Info.Status, "error_id", s.result.Error.ID)
}

// awaitUsable polls until the service is up, or connecting for SMTP.
func (s *session) awaitUsable(ctx context.Context) (bool, error) {
	for polls := 1; ; polls++ {
		if polls > s.budget.MaxOpenPolls {
			s.abort("open poll limit")
			return false, nil
		}
		if err := s.poll(ctx); err != nil {
			return false, err
		}
		if s.result.Error.ID != 0 {
			s.abort("service error")
			return false, nil
		}
		switch s.result.Info.Status {
		case ServiceDown, ServiceUnknown, ServiceClosing:
			s.abort("service not usable")
			return false, nil
		case ServiceUp:
			return true, nil
		case ServiceConnecting:
			if s.smtp {
				return true, nil
			}
		}
		if err := sleepCtx(ctx, s.budget.PollInterval); err != nil {
			return false, err
		}
	}
}

// write sends data in chunks, advancing by what the device accepted.
func (s *session) write(ctx context.Context, data []byte) (bool, error) {
	stalled := 0
	for len(data) > 0 {
		chunk := data[:min(len(data), s.budget.ChunkSize)]
		n, err := s.m.ServiceWrite(ctx, s.id, chunk)
		var cmdErr *CommandError
		switch {
		case errors.As(err, &cmdErr):
			n = 0
		case err != nil:
			return false, err
		}
		n = max(0, min(n, len(chunk)))
		data = data[n:]

		if n == 0 {
			stalled++
			if stalled > s.budget.MaxStalledWrites {
				s.abort("write stalled")
				return false, nil
			}
		} else {
			stalled = 0
		}

		if err := s.poll(ctx); err != nil {
			return false, err
		}
		if len(data) == 0 {
			break
		}
		if s.result.Error.ID != 0 {
			s.abort("service error")
			return false, nil
		}
		switch s.result.Info.Status {
		case ServiceUp:
		case ServiceConnecting:
			if !s.smtp {
				s.abort("service not usable")
				return false, nil
			}
		default:
			s.abort("service not usable")
			return false, nil
		}
	}

	if s.smtp {
		if err := s.m.endOfData(ctx, s.id); err != nil {
			return false, fmt.Errorf("end of mail data: %w", err)
		}
	}
	return true, nil
}

// read collects the reply until the transfer finishes, the service stays
// down, an error shows up or the poll cap is hit. SMTP only waits for down.
func (s *session) read(ctx context.Context) error {
	defer func() { s.result.Body = s.body.String() }()

	down := 0
	for polls := 1; polls <= s.budget.MaxReadPolls; polls++ {
		if err := s.poll(ctx); err != nil {
			return err
		}
		if s.result.Error.ID != 0 {
			return nil
		}
		if s.result.Info.Status == ServiceDown {
			if s.smtp {
				return nil
			}
			down++
		}
		if down > s.budget.MaxDown {
			return nil
		}

		if !s.smtp {
			r, err := s.m.ServiceRead(ctx, s.id, s.budget.ChunkSize)
			if err != nil {
				return err
			}
			switch r.Status {
			case ReadAvailable:
				s.body.WriteString(r.Data)
			case ReadFinished:
				return nil
			}
		}

		if err := sleepCtx(ctx, s.budget.PollInterval); err != nil {
			return err
		}
	}
	s.logger.Debug("Read poll limit reached", "polls", s.budget.MaxReadPolls)
	return nil
}

// close always runs, even when ctx is already done.
func (s *session) close(ctx context.Context) {
	timeout := s.m.config.atTimeout
	if timeout <= 0 {
		timeout = DefaultATTimeout
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.enter(closeCtx, phaseClosed); err != nil {
		s.logger.Warn("Session phase", "error", err)
	}
	if err := s.m.CloseService(closeCtx, s.id); err != nil {
		s.logger.Warn("Closing service failed", "error", err)
	}
}
