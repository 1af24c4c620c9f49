package validate

import (
	"strings"
	"testing"
)

// The all-digit content hash is deliberate: unquoted it parses as a YAML
// number, which validation must tolerate.
const validLockfileYAML = `version: 2
metadata:
  content_hash:
    linux-64: 1111111111111111111111111111111111111111111111111111111111111111
  channels:
    - url: conda-forge
      used_env_vars: []
  platforms:
    - linux-64
  sources:
    - environment.yml
package:
  - name: python
    version: 3.11.4
    manager: conda
    platform: linux-64
    dependencies:
      - openssl
    url: https://conda.anaconda.org/conda-forge/linux-64/python-3.11.4.conda
    hash:
      sha256: abc
    category: main
    optional: false
`

func TestValidateLockfileYAML(t *testing.T) {
	if err := ValidateLockfileYAML([]byte(validLockfileYAML)); err != nil {
		t.Errorf("valid lockfile rejected: %v", err)
	}
}

func TestValidateLockfileRejectsBadManager(t *testing.T) {
	bad := strings.Replace(validLockfileYAML, "manager: conda", "manager: cargo", 1)
	if err := ValidateLockfileYAML([]byte(bad)); err == nil {
		t.Errorf("unknown manager should fail validation")
	}
}

func TestValidateLockfileRejectsBadHash(t *testing.T) {
	bad := strings.Replace(validLockfileYAML,
		"linux-64: 1111111111111111111111111111111111111111111111111111111111111111",
		"linux-64: nothex", 1)
	if err := ValidateLockfileYAML([]byte(bad)); err == nil {
		t.Errorf("malformed content hash should fail validation")
	}
}

func TestValidateLockfileRejectsMissingVersion(t *testing.T) {
	bad := strings.Replace(validLockfileYAML, "version: 2\n", "", 1)
	if err := ValidateLockfileYAML([]byte(bad)); err == nil {
		t.Errorf("missing schema version should fail validation")
	}
}

func TestValidateConfigJSON(t *testing.T) {
	good := []byte(`{"workers": 4, "logging": {"level": "info"}}`)
	if err := ValidateConfigJSON(good); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := []byte(`{"workers": 0}`)
	if err := ValidateConfigJSON(bad); err == nil {
		t.Errorf("out-of-range workers should fail validation")
	}

	badLevel := []byte(`{"logging": {"level": "verbose"}}`)
	if err := ValidateConfigJSON(badLevel); err == nil {
		t.Errorf("unknown log level should fail validation")
	}
}
