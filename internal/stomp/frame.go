// Package stomp implements the subset of STOMP 1.2 text framing the
// community message bus speaks: CONNECT/CONNECTED handshake, SUBSCRIBE,
// SEND, server MESSAGE/ERROR frames and DISCONNECT. One WebSocket text
// message carries exactly one frame, so no content-length scanning is done.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandSend        Command = "SEND"
	CommandMessage     Command = "MESSAGE"
	CommandError       Command = "ERROR"
	CommandDisconnect  Command = "DISCONNECT"
)

const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderAuthorization = "Authorization"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderContentType   = "content-type"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderSubscription  = "subscription"
	HeaderVersion       = "version"
)

var (
	ErrEmptyFrame     = errors.New("stomp: empty frame")
	ErrBadFrame       = errors.New("stomp: malformed frame")
	ErrUnknownCommand = errors.New("stomp: unknown command")
)

var knownCommands = map[Command]struct{}{
	CommandConnect:     {},
	CommandConnected:   {},
	CommandSubscribe:   {},
	CommandUnsubscribe: {},
	CommandSend:        {},
	CommandMessage:     {},
	CommandError:       {},
	CommandDisconnect:  {},
}

type header struct {
	key   string
	value string
}

// Frame is one STOMP frame. Headers keep insertion order; on read,
// the first occurrence of a repeated header wins per the STOMP spec.
type Frame struct {
	Command Command
	headers []header
	Body    []byte
}

func NewFrame(command Command) *Frame {
	return &Frame{Command: command}
}

func (f *Frame) Set(key, value string) *Frame {
	for i := range f.headers {
		if f.headers[i].key == key {
			f.headers[i].value = value
			return f
		}
	}
	f.headers = append(f.headers, header{key: key, value: value})
	return f
}

func (f *Frame) Get(key string) string {
	for _, h := range f.headers {
		if h.key == key {
			return h.value
		}
	}
	return ""
}

// Marshal renders the frame as a NUL-terminated STOMP wire frame.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')
	escape := escapesHeaders(f.Command)
	for _, h := range f.headers {
		key := h.key
		value := h.value
		if escape {
			key = escapeHeader(key)
			value = escapeHeader(value)
		}
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes one wire frame. A trailing NUL terminator is accepted and
// stripped; carriage returns before line feeds are tolerated.
func Parse(raw []byte) (*Frame, error) {
	raw = bytes.TrimSuffix(raw, []byte{0})
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyFrame
	}

	headerEnd := bytes.Index(raw, []byte("\n\n"))
	bodyStart := headerEnd + 2
	if crlf := bytes.Index(raw, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd = crlf
		bodyStart = crlf + 4
	}
	if headerEnd < 0 {
		return nil, ErrBadFrame
	}

	lines := strings.Split(strings.ReplaceAll(string(raw[:headerEnd]), "\r\n", "\n"), "\n")
	command := Command(strings.TrimSpace(lines[0]))
	if _, ok := knownCommands[command]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, lines[0])
	}

	frame := NewFrame(command)
	unescape := escapesHeaders(command)
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		sep := strings.IndexByte(line, ':')
		if sep < 1 {
			return nil, fmt.Errorf("%w: header %q", ErrBadFrame, line)
		}
		key := line[:sep]
		value := line[sep+1:]
		if unescape {
			var err error
			if key, err = unescapeHeader(key); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		// First occurrence wins.
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			frame.Set(key, value)
		}
	}

	if bodyStart < len(raw) {
		frame.Body = append([]byte(nil), raw[bodyStart:]...)
	}
	return frame, nil
}

// STOMP 1.2 exempts the CONNECT/CONNECTED handshake from header escaping.
func escapesHeaders(command Command) bool {
	return command != CommandConnect && command != CommandConnected
}

func escapeHeader(s string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "\n", "\\n", ":", "\\c", "\r", "\\r")
	return replacer.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("%w: dangling escape", ErrBadFrame)
		}
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 'c':
			out.WriteByte(':')
		case '\\':
			out.WriteByte('\\')
		default:
			return "", fmt.Errorf("%w: escape \\%c", ErrBadFrame, s[i])
		}
	}
	return out.String(), nil
}
