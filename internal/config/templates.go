package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sandbox":
		return sandboxTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const sandboxTemplate = `id = "sandboxd"
addr = ":8000"
cors_origins = ["http://localhost:3000"]
api_key = ""
session_ttl = "10m"
sweep_interval = "1m"
work_root = ""
seed_files = true
shell = ["/bin/bash", "-l"]
ledger_path = ""
`

const clientTemplate = `api_base = "http://localhost:8000"
stream_base = "ws://localhost:8000"
api_key = ""
store = "file"
store_path = ""
seal_key = ""
security_mode = "development"
connect_timeout = "5s"
request_timeout = "15s"
ping_interval = "30s"
reconnect_base_delay = "1s"
reconnect_max_attempts = 3

[tls]
ca_file = ""
server_name = ""
insecure_skip_verify = false
`
