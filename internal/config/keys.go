package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the JSON type a key holds in the config file.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "string"
	}
}

// Key describes one dot-addressed setting.
type Key struct {
	Name    string
	Kind    Kind
	Secret  bool
	Choices []string
	Help    string
}

var keys = []Key{
	{Name: "data_dir", Kind: KindString, Help: "where session, frame and artifact files live"},
	{Name: "log_level", Kind: KindString, Choices: []string{"debug", "info", "warn", "error"}, Help: "minimum log level"},
	{Name: "server.base_url", Kind: KindString, Help: "http(s) base of the chat server"},
	{Name: "server.auth_token", Kind: KindString, Secret: true, Help: "bearer token sent on every request"},
	{Name: "server.profile_path", Kind: KindString, Help: "endpoint checked when a connection is refused"},
	{Name: "chat.agent", Kind: KindString, Help: "agent addressed when none is given"},
	{Name: "chat.inactivity_timeout_ms", Kind: KindInt, Help: "end a response after this much silence"},
	{Name: "chat.reconnect_base_ms", Kind: KindInt, Help: "first reconnect delay"},
	{Name: "chat.reconnect_max_ms", Kind: KindInt, Help: "reconnect delay cap"},
	{Name: "chat.max_reconnect_attempts", Kind: KindInt, Help: "give up after this many failed reconnects"},
	{Name: "chat.ping_interval_ms", Kind: KindInt, Help: "websocket keepalive interval, 0 disables"},
	{Name: "chat.trace_frames", Kind: KindBool, Help: "record every frame under data_dir"},
	{Name: "mock.listen", Kind: KindString, Help: "mock-server listen address"},
	{Name: "mock.chunk_delay_ms", Kind: KindInt, Help: "delay between streamed chunks"},
	{Name: "mock.max_connections", Kind: KindInt, Help: "concurrent websocket limit"},
}

var keyIndex = func() map[string]Key {
	m := make(map[string]Key, len(keys))
	for _, k := range keys {
		m[k.Name] = k
	}
	return m
}()

// Keys returns every known key sorted by name.
func Keys() []Key {
	out := append([]Key(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupKey returns the description of name.
func LookupKey(name string) (Key, bool) {
	k, ok := keyIndex[name]
	return k, ok
}

// IsSecretKey reports whether values stored under name are masked on display.
func IsSecretKey(name string) bool {
	return keyIndex[name].Secret
}

// Parse converts a command-line value into what the config file stores for k.
func (k Key) Parse(value string) (any, error) {
	switch k.Kind {
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", k.Name, value)
		}
		if n < 0 {
			return nil, fmt.Errorf("%s must not be negative", k.Name)
		}
		return n, nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", k.Name, value)
		}
		return b, nil
	}
	if len(k.Choices) > 0 {
		for _, c := range k.Choices {
			if strings.EqualFold(value, c) {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%s must be one of %s", k.Name, strings.Join(k.Choices, ", "))
	}
	return value, nil
}

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// MaskSecrets returns a copy of flat with secret string values masked.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && IsSecretKey(k) {
			v = Mask(s)
		}
		out[k] = v
	}
	return out
}

// Flatten turns nested objects into dot keys: {"chat":{"agent":"x"}} becomes
// {"chat.agent":"x"}. Empty objects produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if child, ok := v.(map[string]any); ok {
				walk(prefix+k+".", child)
				continue
			}
			out[prefix+k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A leaf in the way of a deeper key is
// replaced by an object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		node := out
		parts := strings.Split(key, ".")
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}
