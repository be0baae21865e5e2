package dispatcher

import (
	"bytes"
	"os"
	"strings"
)

const envPlaceholderPrefix = "__ionify_env__."

// hmrClientTag is injected before </head> (or appended, if a module
// has none) so every served HTML entry point opens the event channel.
const hmrClientTag = `<script type="module" src="/__ionify_hmr_client.js"></script>`

// substituteEnvPlaceholders replaces every
// __ionify_env__.NAME token with the value of the IONIFY_PUBLIC_NAME
// environment variable (or an empty string literal if unset), the
// dev-mode equivalent of a bundler's define-time env injection.
func substituteEnvPlaceholders(code []byte) []byte {
	if !bytes.Contains(code, []byte(envPlaceholderPrefix)) {
		return code
	}

	var out bytes.Buffer
	rest := string(code)
	for {
		idx := strings.Index(rest, envPlaceholderPrefix)
		if idx < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:idx])
		rest = rest[idx+len(envPlaceholderPrefix):]

		name, remainder := splitIdentifier(rest)
		value := os.Getenv("IONIFY_PUBLIC_" + name)
		out.WriteString(`"` + strings.ReplaceAll(value, `"`, `\"`) + `"`)
		rest = remainder
	}
	return out.Bytes()
}

func splitIdentifier(s string) (name, rest string) {
	for i, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func injectHMRClient(html []byte) []byte {
	if idx := bytes.Index(html, []byte("</head>")); idx >= 0 {
		out := make([]byte, 0, len(html)+len(hmrClientTag))
		out = append(out, html[:idx]...)
		out = append(out, []byte(hmrClientTag)...)
		out = append(out, html[idx:]...)
		return out
	}
	return append(html, []byte("\n"+hmrClientTag+"\n")...)
}
