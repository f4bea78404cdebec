package modem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"i4.energy/across/bgs2/at"
)

// ServiceType is the srvType of a service profile.
type ServiceType string

const (
	ServiceFTP         ServiceType = "Ftp"
	ServiceHTTP        ServiceType = "Http"
	ServicePOP3        ServiceType = "Pop3"
	ServiceSMTP        ServiceType = "Smtp"
	ServiceSocket      ServiceType = "Socket"
	ServiceTransparent ServiceType = "Transparent"
	ServiceNone        ServiceType = "none"
)

// ConnectionType is the conType of a connection profile.
type ConnectionType string

const (
	ConnectionCSD  ConnectionType = "CSD"
	ConnectionGPRS ConnectionType = "GPRS0"
	ConnectionNone ConnectionType = "none"
)

type HTTPMethod int

const (
	MethodGet  HTTPMethod = 0
	MethodPost HTTPMethod = 1
)

// POPCommand selects what a POP3 session does.
type POPCommand int

const (
	POPUnset    POPCommand = 0
	POPStatus   POPCommand = 1
	POPList     POPCommand = 2
	POPRetrieve POPCommand = 3
	POPDelete   POPCommand = 4
)

// AlphabetReference makes the device pass strings through untranslated.
const AlphabetReference = "1"

// ConnectionProfile is an AT^SICS bearer configuration.
type ConnectionProfile struct {
	ID                int
	Type              ConnectionType
	APN               string
	User              string
	Password          string
	InactivityTimeout string
	DNS1              string
	DNS2              string
	Alphabet          string
}

// ServiceProfile is an AT^SISS service configuration. Empty optional fields
// are not written.
type ServiceProfile struct {
	ID           int
	Type         ServiceType
	ConnectionID int
	Address      string
	// Method applies to Http profiles only.
	Method HTTPMethod

	Alphabet       string
	HTTPAuth       string
	HTTPContent    string
	HTTPContentLen string
	HTTPProperties string
	HTTPRedirect   string
	HTTPUserAgent  string
	Password       string
	POPCommand     POPCommand
	POPDelete      string
	POPLength      string
	POPNumber      string
	SMTPAuth       string
	SMTPCC         string
	SMTPFrom       string
	SMTPHeader     string
	SMTPRecipient  string
	SMTPSubject    string
	TCPRetries     string
	TCPTimeout     string
	TCPPort        string
	User           string
	SecOpt         string
}

type profileParam struct {
	key, value string
}

func (p ConnectionProfile) params() []profileParam {
	params := []profileParam{
		{"conType", string(p.Type)},
		{"apn", p.APN},
	}
	return appendSet(params,
		profileParam{"user", p.User},
		profileParam{"passwd", p.Password},
		profileParam{"inactTO", p.InactivityTimeout},
		profileParam{"dns1", p.DNS1},
		profileParam{"dns2", p.DNS2},
		profileParam{"alphabet", p.Alphabet},
	)
}

func (p ServiceProfile) params() []profileParam {
	params := []profileParam{{"srvType", string(p.Type)}}
	if p.Type == ServiceHTTP {
		params = append(params, profileParam{"hcMethod", strconv.Itoa(int(p.Method))})
	}
	params = append(params,
		profileParam{"conId", strconv.Itoa(p.ConnectionID)},
		profileParam{"address", p.Address},
	)
	var popCmd string
	if p.POPCommand != POPUnset {
		popCmd = strconv.Itoa(int(p.POPCommand))
	}
	return appendSet(params,
		profileParam{"alphabet", p.Alphabet},
		profileParam{"hcAuth", p.HTTPAuth},
		profileParam{"hcContent", p.HTTPContent},
		profileParam{"hcContLen", p.HTTPContentLen},
		profileParam{"hcProp", p.HTTPProperties},
		profileParam{"hcRedir", p.HTTPRedirect},
		profileParam{"hcUsrAgent", p.HTTPUserAgent},
		profileParam{"passwd", p.Password},
		profileParam{"pCmd", popCmd},
		profileParam{"pDelFlag", p.POPDelete},
		profileParam{"pLength", p.POPLength},
		profileParam{"pNumber", p.POPNumber},
		profileParam{"smAuth", p.SMTPAuth},
		profileParam{"smCC", p.SMTPCC},
		profileParam{"smFrom", p.SMTPFrom},
		profileParam{"smHdr", p.SMTPHeader},
		profileParam{"smRcpt", p.SMTPRecipient},
		profileParam{"smSubj", p.SMTPSubject},
		profileParam{"tcpMR", p.TCPRetries},
		profileParam{"tcpOT", p.TCPTimeout},
		profileParam{"tcpPort", p.TCPPort},
		profileParam{"user", p.User},
		profileParam{"secOpt", p.SecOpt},
	)
}

func appendSet(params []profileParam, optional ...profileParam) []profileParam {
	for _, p := range optional {
		if p.value != "" {
			params = append(params, p)
		}
	}
	return params
}

// SetConnectionProfile writes every parameter of p, one command each.
func (m *Modem) SetConnectionProfile(ctx context.Context, p ConnectionProfile) error {
	return m.setProfile(ctx, "AT^SICS", p.ID, p.params())
}

// SetServiceProfile writes every parameter of p, one command each.
func (m *Modem) SetServiceProfile(ctx context.Context, p ServiceProfile) error {
	return m.setProfile(ctx, "AT^SISS", p.ID, p.params())
}

func (m *Modem) ClearConnectionProfile(ctx context.Context, id int) error {
	return m.setProfile(ctx, "AT^SICS", id, []profileParam{{"conType", string(ConnectionNone)}})
}

func (m *Modem) ClearServiceProfile(ctx context.Context, id int) error {
	return m.setProfile(ctx, "AT^SISS", id, []profileParam{{"srvType", string(ServiceNone)}})
}

func (m *Modem) setProfile(ctx context.Context, cmd string, id int, params []profileParam) error {
	for _, p := range params {
		line := fmt.Sprintf("%s=%d,%s,%s", cmd, id, p.key, at.Quote(p.value))
		if _, err := m.run(ctx, line); err != nil {
			return fmt.Errorf("set profile %d %s: %w", id, p.key, err)
		}
	}
	return nil
}

// ReadConnectionProfile reads profile id back from AT^SICS?.
func (m *Modem) ReadConnectionProfile(ctx context.Context, id int) (ConnectionProfile, error) {
	values, err := m.readProfile(ctx, "AT^SICS?", "^SICS", id)
	if err != nil {
		return ConnectionProfile{}, err
	}
	p := ConnectionProfile{ID: id, Type: ConnectionNone}
	for key, value := range values {
		switch key {
		case "conType":
			p.Type = ConnectionType(value)
		case "apn":
			p.APN = value
		case "user":
			p.User = value
		case "passwd":
			p.Password = value
		case "inactTO":
			p.InactivityTimeout = value
		case "dns1":
			p.DNS1 = value
		case "dns2":
			p.DNS2 = value
		case "alphabet":
			p.Alphabet = value
		}
	}
	return p, nil
}

// ReadServiceProfile reads profile id back from AT^SISS?. Numeric fields the
// device leaves unset read as zero; ConnectionID reads as -1.
func (m *Modem) ReadServiceProfile(ctx context.Context, id int) (ServiceProfile, error) {
	values, err := m.readProfile(ctx, "AT^SISS?", "^SISS", id)
	if err != nil {
		return ServiceProfile{}, err
	}
	p := ServiceProfile{ID: id, Type: ServiceNone, ConnectionID: -1}
	for key, value := range values {
		switch key {
		case "srvType":
			p.Type = ServiceType(value)
		case "conId":
			if n, err := strconv.Atoi(value); err == nil {
				p.ConnectionID = n
			}
		case "address":
			p.Address = value
		case "hcMethod":
			if n, err := strconv.Atoi(value); err == nil {
				p.Method = HTTPMethod(n)
			}
		case "pCmd":
			if n, err := strconv.Atoi(value); err == nil {
				p.POPCommand = POPCommand(n)
			}
		default:
			if field := p.stringField(key); field != nil {
				*field = value
			}
		}
	}
	return p, nil
}

func (p *ServiceProfile) stringField(key string) *string {
	switch key {
	case "alphabet":
		return &p.Alphabet
	case "hcAuth":
		return &p.HTTPAuth
	case "hcContent":
		return &p.HTTPContent
	case "hcContLen":
		return &p.HTTPContentLen
	case "hcProp":
		return &p.HTTPProperties
	case "hcRedir":
		return &p.HTTPRedirect
	case "hcUsrAgent":
		return &p.HTTPUserAgent
	case "passwd":
		return &p.Password
	case "pDelFlag":
		return &p.POPDelete
	case "pLength":
		return &p.POPLength
	case "pNumber":
		return &p.POPNumber
	case "smAuth":
		return &p.SMTPAuth
	case "smCC":
		return &p.SMTPCC
	case "smFrom":
		return &p.SMTPFrom
	case "smHdr":
		return &p.SMTPHeader
	case "smRcpt":
		return &p.SMTPRecipient
	case "smSubj":
		return &p.SMTPSubject
	case "tcpMR":
		return &p.TCPRetries
	case "tcpOT":
		return &p.TCPTimeout
	case "tcpPort":
		return &p.TCPPort
	case "user":
		return &p.User
	case "secOpt":
		return &p.SecOpt
	}
	return nil
}

// readProfile collects the `id,"key","value"` rows of one profile. A value
// may itself contain commas.
func (m *Modem) readProfile(ctx context.Context, cmd, tag string, id int) (map[string]string, error) {
	lines, err := m.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	want := strconv.Itoa(id)
	out := make(map[string]string)
	prefix := tag + at.TagSeparator
	for _, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.SplitN(line[len(prefix):], ",", 3)
		if len(fields) != 3 || strings.TrimSpace(fields[0]) != want {
			continue
		}
		out[at.Unquote(fields[1])] = at.Unquote(fields[2])
	}
	return out, nil
}

// HTTPHeaders is a set of extra request headers for hcProp. It is safe for
// concurrent use.
type HTTPHeaders struct {
	mu     sync.Mutex
	values map[string]string
}

func (h *HTTPHeaders) Set(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.values == nil {
		h.values = make(map[string]string)
	}
	h.values[key] = value
}

func (h *HTTPHeaders) Get(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[key]
	return v, ok
}

func (h *HTTPHeaders) Del(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.values, key)
}

// String renders the headers in the device escape syntax, `key:\20value`
// joined by `\0d\0a`, sorted by key.
func (h *HTTPHeaders) String() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+`:\20`+h.values[k])
	}
	return strings.Join(parts, `\0d\0a`)
}
