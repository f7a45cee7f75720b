package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct{ host, pass string }

func (a account) LogValue() slog.Value {
	return slog.GroupValue(slog.String("hostname", a.host), slog.String("password", a.pass))
}

// lookup walks a dotted key through decoded JSON log output.
func lookup(doc map[string]any, key string) any {
	var v any = doc
	for _, part := range strings.Split(key, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[part]
	}
	return v
}

func TestRedactingHandler(t *testing.T) {
	tests := map[string]struct {
		attrs []any
		want  map[string]string
	}{
		"keys containing a secret word": {
			attrs: []any{"password", "secret123", "api_token", "abcdef", "username", "admin"},
			want:  map[string]string{"password": redacted, "api_token": redacted, "username": "admin"},
		},
		"key match ignores case": {
			attrs: []any{"UserPassword", "secret", "KerberosTicket", "xyz", "KeytabPath", "/etc/krb5.keytab"},
			want:  map[string]string{"UserPassword": redacted, "KerberosTicket": redacted, "KeytabPath": redacted},
		},
		"groups": {
			attrs: []any{slog.Group("record", "password", "hidden", "hostname", "visible")},
			want:  map[string]string{"record.password": redacted, "record.hostname": "visible"},
		},
		"LogValuer resolved before checking": {
			attrs: []any{"target", account{host: "dc01", pass: "pw"}},
			want:  map[string]string{"target.password": redacted, "target.hostname": "dc01"},
		},
		"secrets inside values": {
			attrs: []any{
				"command", "cmdkey /add:dc01 /user:admin /pass:hunter2",
				"script", "New-LocalUser -Password  abc123 -Name x",
			},
			want: map[string]string{
				"command": "cmdkey /add:dc01 /user:admin /pass:" + redacted,
				"script":  "New-LocalUser -Password  " + redacted + " -Name x",
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil))).Info("event", tt.attrs...)

			var doc map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
			for key, want := range tt.want {
				assert.Equal(t, want, lookup(doc, key), key)
			}
		})
	}
}

func TestRedactingHandler_DerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewTextHandler(&buf, nil))).
		With("password", "topsecret").
		WithGroup("op")
	logger.Info("cmdkey /pass:inline", "host", "dc01")

	assert.NotContains(t, buf.String(), "topsecret")
	assert.NotContains(t, buf.String(), "inline")
	assert.Contains(t, buf.String(), "op.host=dc01")
}

func TestRedactingHandler_Enabled(t *testing.T) {
	h := NewRedactingHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	assert.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, h.Enabled(t.Context(), slog.LevelError))
}
