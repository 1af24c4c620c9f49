// Package credentials rewrites channel and package URLs between their literal
// form (carrying secrets) and a parameterized form referencing environment
// variables. The engine calls it only at the serialize/deserialize boundary
// and when handing literal URLs to solver backends.
package credentials

import (
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// UsedEnvVars returns the sorted set of environment-variable names referenced
// by placeholders in s.
func UsedEnvVars(s string) []string {
	matches := envVarPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	var names []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names
}

// Parameterize converts a URL with literal credentials back into a
// placeholder form. Userinfo components whose literal value equals the value
// of a currently set environment variable are replaced with that variable's
// placeholder; URLs that already carry placeholders are returned unchanged
// with their referenced variables reported.
func Parameterize(raw string) (string, []string) {
	if vars := UsedEnvVars(raw); vars != nil {
		return raw, vars
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw, nil
	}

	valueToVar := invertEnviron()
	var usedVars []string

	username := u.User.Username()
	password, hasPassword := u.User.Password()

	newUser := username
	if name, ok := valueToVar[username]; ok && username != "" {
		newUser = "$" + name
		usedVars = append(usedVars, name)
	}
	newPassword := password
	if hasPassword {
		if name, ok := valueToVar[password]; ok && password != "" {
			newPassword = "$" + name
			usedVars = append(usedVars, name)
		}
	}

	if len(usedVars) == 0 {
		return raw, nil
	}

	userinfo := newUser
	if hasPassword {
		userinfo += ":" + newPassword
	}
	rebuilt := u.Scheme + "://" + userinfo + "@" + u.Host + u.Path
	if u.RawQuery != "" {
		rebuilt += "?" + u.RawQuery
	}
	sort.Strings(usedVars)
	return rebuilt, usedVars
}

// Substitute expands env-var placeholders in a parameterized URL into their
// literal values from the process environment. Unset variables expand empty.
func Substitute(parameterized string) string {
	return envVarPattern.ReplaceAllStringFunc(parameterized, func(m string) string {
		name := strings.Trim(m, "${}")
		return os.Getenv(name)
	})
}

// StripUserinfo removes any credential component from a URL entirely. Used
// for log output and diagnostics, where even placeholders are unwanted.
func StripUserinfo(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

func invertEnviron() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		// First-seen wins so the mapping is stable for duplicated values.
		if _, ok := out[parts[1]]; !ok {
			out[parts[1]] = parts[0]
		}
	}
	return out
}
