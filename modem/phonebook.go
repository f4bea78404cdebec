package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/bgs2/at"
)

// PhonebookStorage names a phonebook memory as used by AT+CPBS.
type PhonebookStorage string

const (
	PhonebookFixedDialing PhonebookStorage = "FD"
	PhonebookLastDialed   PhonebookStorage = "LD"
	PhonebookMissed       PhonebookStorage = "MC"
	PhonebookME           PhonebookStorage = "ME"
	PhonebookReceived     PhonebookStorage = "RC"
	PhonebookSIM          PhonebookStorage = "SM"
	PhonebookMSISDN       PhonebookStorage = "ON"
	PhonebookVoiceMailbox PhonebookStorage = "VM"
)

// PhonebookEntry is one phonebook record.
type PhonebookEntry struct {
	Location   string     `json:"location"`
	Number     string     `json:"number"`
	NumberType NumberType `json:"number_type"`
	Name       string     `json:"name"`
}

// PhonebookStorageDetail is the selected storage with its fill level.
type PhonebookStorageDetail struct {
	Storage PhonebookStorage `json:"storage"`
	Used    int              `json:"used"`
	Total   int              `json:"total"`
}

// PhonebookEntries reads locations start..end of the active storage. With
// alphabetical set the entries come sorted by name and start/end are indices
// into that order.
func (m *Modem) PhonebookEntries(ctx context.Context, start, end int, alphabetical bool) ([]PhonebookEntry, error) {
	cmd := fmt.Sprintf("AT+CPBR=%d,%d", start, end)
	if alphabetical {
		cmd = fmt.Sprintf("AT^SPBG=%d,%d,1", start, end)
	}
	lines, err := m.run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var entries []PhonebookEntry
	for _, line := range lines {
		tag, values, ok := at.SplitTag(line)
		if !ok || len(values) < 4 {
			continue
		}
		t, err := atoi(values[2])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
		entry := PhonebookEntry{
			Number:     at.Unquote(values[1]),
			NumberType: NumberType(t),
			Name:       at.Unquote(values[3]),
		}
		switch tag {
		case "+CPBR":
			entry.Location = strings.TrimSpace(values[0])
		case "^SPBG":
			if len(values) < 5 {
				continue
			}
			entry.Location = strings.TrimSpace(values[4])
		default:
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PhonebookStorage returns the active storage and how full it is.
func (m *Modem) PhonebookStorage(ctx context.Context) (PhonebookStorageDetail, error) {
	values, err := m.query(ctx, "AT+CPBS?", "+CPBS")
	if err != nil {
		return PhonebookStorageDetail{}, err
	}
	if len(values) != 3 {
		return PhonebookStorageDetail{}, fmt.Errorf("AT+CPBS?: %w: %q", ErrUnexpectedResponse, values)
	}
	used, err := atoi(values[1])
	if err != nil {
		return PhonebookStorageDetail{}, err
	}
	total, err := atoi(values[2])
	if err != nil {
		return PhonebookStorageDetail{}, err
	}
	return PhonebookStorageDetail{
		Storage: PhonebookStorage(at.Unquote(values[0])),
		Used:    used,
		Total:   total,
	}, nil
}

// SelectPhonebook makes storage the target of subsequent phonebook commands.
func (m *Modem) SelectPhonebook(ctx context.Context, storage PhonebookStorage) error {
	_, err := m.run(ctx, "AT+CPBS="+at.Quote(string(storage)))
	return err
}

// Phonebook selects storage and returns all of its used entries.
func (m *Modem) Phonebook(ctx context.Context, storage PhonebookStorage, alphabetical bool) ([]PhonebookEntry, error) {
	if err := m.SelectPhonebook(ctx, storage); err != nil {
		return nil, err
	}
	detail, err := m.PhonebookStorage(ctx)
	if err != nil {
		return nil, err
	}
	if detail.Used == 0 {
		return nil, nil
	}
	return m.PhonebookEntries(ctx, 1, detail.Used, alphabetical)
}

// WritePhonebookEntry stores entry in the active storage. An empty Location
// takes the first free slot; NumberTypeUnknown lets the device pick the type.
func (m *Modem) WritePhonebookEntry(ctx context.Context, entry PhonebookEntry) error {
	numType := ""
	if entry.NumberType != NumberTypeUnknown {
		numType = strconv.Itoa(int(entry.NumberType))
	}
	cmd := fmt.Sprintf("AT+CPBW=%s,%s,%s,%s",
		entry.Location, at.Quote(entry.Number), numType, at.Quote(entry.Name))
	_, err := m.run(ctx, cmd)
	return err
}

func (m *Modem) DeletePhonebookEntry(ctx context.Context, location string) error {
	_, err := m.run(ctx, "AT+CPBW="+location)
	return err
}

// PurgePhonebook deletes every entry of storage. It cannot be undone.
func (m *Modem) PurgePhonebook(ctx context.Context, storage PhonebookStorage) error {
	_, err := m.run(ctx, "AT^SPBD="+at.Quote(string(storage)))
	return err
}

// ClearLastDialed empties the LD memory.
func (m *Modem) ClearLastDialed(ctx context.Context) error {
	_, err := m.run(ctx, "AT^SDLD")
	return err
}
