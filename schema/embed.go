package schema

import _ "embed"

//go:embed conda-lock.schema.json
var LockfileSchema []byte

//go:embed conda-lock-config.schema.json
var ConfigSchema []byte
