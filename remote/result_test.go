package remote

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_OK(t *testing.T) {
	var nilResult *Result
	assert.False(t, nilResult.OK())
	assert.True(t, (&Result{}).OK())
	assert.False(t, (&Result{ExitCode: 2}).OK())
	assert.False(t, (&Result{Err: errors.New("x")}).OK())
}

func TestNotConnected(t *testing.T) {
	r := NotConnected()
	assert.Equal(t, 1, r.ExitCode)
	assert.ErrorIs(t, r.Err, ErrNotConnected)
	assert.NotEmpty(t, r.Stderr)
}

func TestNormalizeOutput(t *testing.T) {
	assert.Equal(t, "a\nb\n", normalizeOutput([]byte("a\r\nb\r\n")))
	assert.Equal(t, "", normalizeOutput(nil))
}

func TestDecodeCLIXML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "something failed\n",
			want: "something failed\n",
		},
		{
			name: "error stream extracted",
			in: "#< CLIXML\r\n<Objs Version=\"1.1.0.1\" xmlns=\"http://schemas.microsoft.com/powershell/2004/04\">" +
				"<S S=\"Error\">File not found: C:\\x_x000D__x000A_</S>" +
				"<S S=\"Progress\">ignored</S>" +
				"<S S=\"Error\">second line</S></Objs>",
			want: "File not found: C:\\x\nsecond line",
		},
		{
			name: "progress only decodes to empty",
			in: "#< CLIXML\n<Objs Version=\"1.1.0.1\" xmlns=\"http://schemas.microsoft.com/powershell/2004/04\">" +
				"<Obj S=\"progress\" RefId=\"0\"><TN RefId=\"0\"><T>System.Management.Automation.PSCustomObject</T></TN></Obj></Objs>",
			want: "",
		},
		{
			name: "malformed kept raw",
			in:   "#< CLIXML\n<Objs><S S=\"Error\">broken",
			want: "#< CLIXML\n<Objs><S S=\"Error\">broken",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeCLIXML(tt.in))
		})
	}
}

func TestUnescapeCLIXML(t *testing.T) {
	assert.Equal(t, "a\tb", unescapeCLIXML("a_x0009_b"))
	assert.Equal(t, "_xZZZZ_", unescapeCLIXML("_xZZZZ_"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "net use /user:bob ********", MaskSecret("net use /user:bob hunter2", "hunter2"))
	assert.Equal(t, "unchanged", MaskSecret("unchanged", ""))
}
