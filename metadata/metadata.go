// Package metadata renders the cloud-init documents a guest reads from the
// VMM metadata service (MMDS).
package metadata

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/projecteru2/fcsdk/types"
)

// Config holds the inputs for the guest's cloud-init metadata.
type Config struct {
	InstanceID   string
	Hostname     string
	RootPassword string
	SSHKeys      []string
}

var tmplFuncs = template.FuncMap{
	// yamlQuote escapes single quotes for YAML single-quoted strings.
	"yamlQuote": func(s string) string {
		return strings.ReplaceAll(s, "'", "''")
	},
}

var userDataTmpl = template.Must(template.New("user-data").Funcs(tmplFuncs).Parse(`#cloud-config
{{- if .Hostname}}
hostname: '{{yamlQuote .Hostname}}'
{{- end}}
{{- if .RootPassword}}
chpasswd:
  expire: false
  list:
    - 'root:{{yamlQuote .RootPassword}}'
ssh_pwauth: true
disable_root: false
{{- end}}
{{- if .SSHKeys}}
ssh_authorized_keys:
{{- range .SSHKeys}}
  - '{{yamlQuote .}}'
{{- end}}
{{- end}}
`))

// UserData renders the #cloud-config document.
func UserData(cfg *Config) (string, error) {
	var buf bytes.Buffer
	if err := userDataTmpl.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("render user-data: %w", err)
	}
	return buf.String(), nil
}

// Document lays cfg out the way the EC2-style metadata tree is served:
// latest/meta-data/* and latest/user-data.
func Document(cfg *Config) (types.MMDSContents, error) {
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("%w: metadata needs an instance id", types.ErrConfiguration)
	}
	userData, err := UserData(cfg)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{"instance-id": cfg.InstanceID}
	if cfg.Hostname != "" {
		meta["local-hostname"] = cfg.Hostname
	}
	if len(cfg.SSHKeys) > 0 {
		keys := make(map[string]any, len(cfg.SSHKeys))
		for i, k := range cfg.SSHKeys {
			keys[strconv.Itoa(i)] = map[string]any{"openssh-key": k}
		}
		meta["public-keys"] = keys
	}
	return types.MMDSContents{
		"latest": map[string]any{
			"meta-data": meta,
			"user-data": userData,
		},
	}, nil
}
