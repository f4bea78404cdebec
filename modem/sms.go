package modem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/bgs2/at"
)

// SMSStatus is the message state used by the list and read commands.
type SMSStatus string

const (
	SMSUnread SMSStatus = "REC UNREAD"
	SMSRead   SMSStatus = "REC READ"
	SMSUnsent SMSStatus = "STO UNSENT"
	SMSSent   SMSStatus = "STO SENT"
	SMSAll    SMSStatus = "ALL"
)

// SMSStorage names a message memory.
type SMSStorage string

const (
	StorageSIM SMSStorage = "SM"
	StorageME  SMSStorage = "ME"
	StorageMT  SMSStorage = "MT"
)

// SMS represents a text message stored on the modem.
type SMS struct {
	ID     string    `json:"id"`
	Status SMSStatus `json:"status,omitempty"`
	Sender string    `json:"sender,omitempty"`
	Date   string    `json:"date,omitempty"`
	Time   string    `json:"time,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// SMSStorageDetail is the fill level of one message memory.
type SMSStorageDetail struct {
	Storage SMSStorage `json:"storage"`
	Used    int        `json:"used"`
	Total   int        `json:"total"`
}

// PreferredStorage is the +CPMS triple.
type PreferredStorage struct {
	ReadDelete SMSStorageDetail `json:"read_delete"`
	WriteSend  SMSStorageDetail `json:"write_send"`
	Receive    SMSStorageDetail `json:"receive"`
}

// StorageSequence is the ^SSMSS setting: 0 makes MT mean ME then SM, 1 SM
// then ME.
type StorageSequence int

// SendSMS sends a text message to the specified recipient and returns the
// message reference assigned by the network.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890").
//
// This method blocks until the message is accepted by the network or an error
// occurs. Network delivery (to the final recipient) happens asynchronously.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (int, error) {
	cmd := "AT+CMGS=" + at.Quote(recipient)
	values, err := m.query(ctx, cmd, "+CMGS", WithBody(message))
	if err != nil {
		return 0, fmt.Errorf("send SMS: %w", err)
	}
	return atoi(values[0])
}

// WriteSMS stores a message in memory and returns its index. An empty
// recipient stores the message without destination.
func (m *Modem) WriteSMS(ctx context.Context, recipient, message string) (int, error) {
	cmd := "AT+CMGW"
	if recipient != "" {
		cmd += "=" + at.Quote(recipient)
	}
	values, err := m.query(ctx, cmd, "+CMGW", WithBody(message))
	if err != nil {
		return 0, fmt.Errorf("write SMS: %w", err)
	}
	return atoi(values[0])
}

// SendStoredSMS sends message id from memory, to recipient when not empty.
func (m *Modem) SendStoredSMS(ctx context.Context, id, recipient string) (int, error) {
	cmd := "AT+CMSS=" + id
	if recipient != "" {
		cmd += "," + at.Quote(recipient)
	}
	values, err := m.query(ctx, cmd, "+CMSS")
	if err != nil {
		return 0, err
	}
	return atoi(values[0])
}

// ReadSMS reads a message and marks it read.
func (m *Modem) ReadSMS(ctx context.Context, id string) (SMS, error) {
	return m.readOne(ctx, "AT+CMGR="+id, "+CMGR", id)
}

// PeekSMS reads a message without changing its status.
func (m *Modem) PeekSMS(ctx context.Context, id string) (SMS, error) {
	return m.readOne(ctx, "AT^SMGR="+id, "^SMGR", id)
}

// ListSMS lists messages with the given status, marking unread ones read.
func (m *Modem) ListSMS(ctx context.Context, status SMSStatus) ([]SMS, error) {
	return m.list(ctx, "AT+CMGL="+at.Quote(string(status)), "+CMGL")
}

// PeekSMSList lists messages without changing their status.
func (m *Modem) PeekSMSList(ctx context.Context, status SMSStatus) ([]SMS, error) {
	return m.list(ctx, "AT^SMGL="+at.Quote(string(status)), "^SMGL")
}

func (m *Modem) DeleteSMS(ctx context.Context, id string) error {
	_, err := m.run(ctx, "AT+CMGD="+id)
	return err
}

// DeleteAllSMS deletes every stored message one by one.
func (m *Modem) DeleteAllSMS(ctx context.Context) error {
	list, err := m.PeekSMSList(ctx, SMSAll)
	if err != nil {
		return err
	}
	var errs []error
	for _, sms := range list {
		if err := m.DeleteSMS(ctx, sms.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete SMS %s: %w", sms.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ServiceCenter returns the SMSC address.
func (m *Modem) ServiceCenter(ctx context.Context) (string, error) {
	values, err := m.query(ctx, "AT+CSCA?", "+CSCA")
	if err != nil {
		return "", err
	}
	return at.Unquote(values[0]), nil
}

func (m *Modem) SetServiceCenter(ctx context.Context, number string) error {
	_, err := m.run(ctx, "AT+CSCA="+at.Quote(number))
	return err
}

func (m *Modem) StorageSequence(ctx context.Context) (StorageSequence, error) {
	values, err := m.query(ctx, "AT^SSMSS?", "^SSMSS")
	if err != nil {
		return 0, err
	}
	n, err := atoi(values[0])
	return StorageSequence(n), err
}

func (m *Modem) SetStorageSequence(ctx context.Context, seq StorageSequence) error {
	_, err := m.run(ctx, "AT^SSMSS="+strconv.Itoa(int(seq)))
	return err
}

// PreferredStorage reads the memories used for reading, writing and receiving.
func (m *Modem) PreferredStorage(ctx context.Context) (PreferredStorage, error) {
	values, err := m.query(ctx, "AT+CPMS?", "+CPMS")
	if err != nil {
		return PreferredStorage{}, err
	}
	if len(values) != 9 {
		return PreferredStorage{}, fmt.Errorf("AT+CPMS?: %w: %d values", ErrUnexpectedResponse, len(values))
	}
	var details [3]SMSStorageDetail
	for i := range details {
		d, err := parseStorageDetail(values[i*3], values[i*3+1], values[i*3+2])
		if err != nil {
			return PreferredStorage{}, err
		}
		details[i] = d
	}
	return PreferredStorage{ReadDelete: details[0], WriteSend: details[1], Receive: details[2]}, nil
}

func (m *Modem) SetPreferredStorage(ctx context.Context, readDelete, writeSend, receive SMSStorage) error {
	cmd := fmt.Sprintf("AT+CPMS=%s,%s,%s",
		at.Quote(string(readDelete)), at.Quote(string(writeSend)), at.Quote(string(receive)))
	_, err := m.run(ctx, cmd)
	return err
}

// MemoryStorages lists every message memory with its fill level.
func (m *Modem) MemoryStorages(ctx context.Context) ([]SMSStorageDetail, error) {
	lines, err := m.run(ctx, "AT^SLMS")
	if err != nil {
		return nil, err
	}
	var out []SMSStorageDetail
	for _, line := range lines {
		tag, values, ok := at.SplitTag(line)
		if !ok || tag != "^SLMS" || len(values) < 3 {
			continue
		}
		// ^SLMS reports total before used
		d, err := parseStorageDetail(values[0], values[2], values[1])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// OverflowStatus reads the ^SMGO presentation and returns the buffer state.
func (m *Modem) OverflowStatus(ctx context.Context) (OverflowStatus, error) {
	values, err := m.query(ctx, "AT^SMGO?", "^SMGO")
	if err != nil {
		return OverflowUnknown, err
	}
	if len(values) < 2 {
		return OverflowUnknown, fmt.Errorf("AT^SMGO?: %w: %q", ErrUnexpectedResponse, values)
	}
	n, err := atoi(values[1])
	if err != nil {
		return OverflowUnknown, err
	}
	return OverflowStatus(n), nil
}

func (m *Modem) readOne(ctx context.Context, cmd, tag, id string) (SMS, error) {
	lines, err := m.run(ctx, cmd)
	if err != nil {
		return SMS{}, err
	}
	if len(lines) < 2 {
		return SMS{}, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, lines)
	}
	t, values, ok := at.SplitTag(lines[0])
	if !ok || t != tag || len(values) < 2 {
		return SMS{}, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, lines[0])
	}
	sms := SMS{
		ID:     id,
		Status: SMSStatus(at.Unquote(values[0])),
		Sender: at.Unquote(values[1]),
		Text:   strings.Join(lines[1:], "\n"),
	}
	if len(values) >= 5 {
		sms.Date = at.Unquote(values[3])
		sms.Time = strings.Trim(values[4], `"`)
	}
	return sms, nil
}

// list parses header/text pairs. Text spanning several lines is joined with
// newlines up to the next header.
func (m *Modem) list(ctx context.Context, cmd, tag string) ([]SMS, error) {
	lines, err := m.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var (
		out  []SMS
		text []string
	)
	flush := func() {
		if len(out) > 0 {
			out[len(out)-1].Text = strings.Join(text, "\n")
		}
		text = text[:0]
	}
	for _, line := range lines {
		t, values, ok := at.SplitTag(line)
		if !ok || t != tag {
			if len(out) > 0 {
				text = append(text, line)
			}
			continue
		}
		if len(values) < 3 {
			return nil, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, line)
		}
		flush()
		sms := SMS{
			ID:     strings.TrimSpace(values[0]),
			Status: SMSStatus(at.Unquote(values[1])),
			Sender: at.Unquote(values[2]),
		}
		if len(values) >= 6 {
			sms.Date = at.Unquote(values[4])
			sms.Time = strings.Trim(values[5], `"`)
		}
		out = append(out, sms)
	}
	flush()
	return out, nil
}

func parseStorageDetail(storage, used, total string) (SMSStorageDetail, error) {
	u, err := atoi(used)
	if err != nil {
		return SMSStorageDetail{}, err
	}
	t, err := atoi(total)
	if err != nil {
		return SMSStorageDetail{}, err
	}
	return SMSStorageDetail{Storage: SMSStorage(at.Unquote(storage)), Used: u, Total: t}, nil
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return n, nil
}
