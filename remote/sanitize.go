package remote

import (
	"strings"
	"unicode/utf8"
)

// maxLoggedScript is the longest script prefix written to logs, in runes.
const maxLoggedScript = 100

const withheldScript = "[withheld: script handles credentials]"

// credentialWords mark scripts that are never logged. Matching ignores case.
var credentialWords = []string{
	"password",
	"credential",
	"secret",
	"apikey",
	"api_key",
	"accesstoken",
	"access_token",
	"convertto-securestring",
	"cmdkey",
}

func handlesCredentials(script string) bool {
	lower := strings.ToLower(script)
	for _, w := range credentialWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// LoggableScript returns the form of script written to debug logs. The
// target's password is masked first. Scripts that look like they handle
// credentials are withheld entirely; others are cut to a short prefix.
func LoggableScript(script, password string) string {
	script = MaskSecret(script, password)
	if handlesCredentials(script) {
		return withheldScript
	}
	if utf8.RuneCountInString(script) <= maxLoggedScript {
		return script
	}
	cut := 0
	for i := range script {
		if cut == maxLoggedScript {
			return script[:i] + "..."
		}
		cut++
	}
	return script
}
