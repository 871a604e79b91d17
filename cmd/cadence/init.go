package main

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/cadence/internal/config"
	"github.com/spf13/cobra"
)

// platformPreset holds the public OAuth endpoints of a known platform.
type platformPreset struct {
	Name     string
	Label    string
	AuthURL  string
	TokenURL string
	PostURL  string
	Scopes   []string
}

var presets = []platformPreset{
	{
		Name:     "linkedin",
		Label:    "LinkedIn",
		AuthURL:  "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
		PostURL:  "https://api.linkedin.com/v2/ugcPosts",
		Scopes:   []string{"openid", "profile", "w_member_social"},
	},
	{
		Name:     "twitter",
		Label:    "X (Twitter)",
		AuthURL:  "https://twitter.com/i/oauth2/authorize",
		TokenURL: "https://api.twitter.com/2/oauth2/token",
		PostURL:  "https://api.twitter.com/2/tweets",
		Scopes:   []string{"tweet.write", "users.read", "offline.access"},
	},
	{
		Name:     "facebook",
		Label:    "Facebook",
		AuthURL:  "https://www.facebook.com/v19.0/dialog/oauth",
		TokenURL: "https://graph.facebook.com/v19.0/oauth/access_token",
		Scopes:   []string{"pages_manage_posts"},
	},
}

// initAnswers is everything the init wizard asks for.
type initAnswers struct {
	Driver      string
	PostgresDSN string
	Platforms   []string
	Bind        string
	ProtectAPI  bool
}

func defaultAnswers() initAnswers {
	return initAnswers{
		Driver:     config.DriverSQLite,
		Platforms:  []string{"linkedin"},
		Bind:       "127.0.0.1:8080",
		ProtectAPI: true,
	}
}

func initCmd() *cobra.Command {
	var (
		output string
		force  bool
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = config.Candidates()[0]
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			answers := defaultAnswers()
			if !yes {
				if err := askInit(&answers); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
			}

			raw, err := renderConfig(answers)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(output, raw, 0o600); err != nil {
				return err
			}

			cmd.Printf("Wrote %s\n", output)
			if vars := envVars(answers); len(vars) > 0 {
				cmd.Println("\nSet these variables (or put them in a .env file next to the config):")
				for _, v := range vars {
					cmd.Printf("  %s\n", v)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the file (default: the first discovery location)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the questions and use defaults")
	return cmd
}

func askInit(a *initAnswers) error {
	platformOpts := make([]huh.Option[string], 0, len(presets))
	for _, p := range presets {
		platformOpts = append(platformOpts, huh.NewOption(p.Label, p.Name))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should jobs and credentials be stored?").
				Options(
					huh.NewOption("SQLite file in the data directory", config.DriverSQLite),
					huh.NewOption("PostgreSQL", config.DriverPostgres),
					huh.NewOption("Memory (lost on restart)", config.DriverMemory),
				).
				Value(&a.Driver),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("PostgreSQL DSN").
				Placeholder("postgres://cadence@localhost/cadence?sslmode=disable").
				Value(&a.PostgresDSN).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("a DSN is required")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return a.Driver != config.DriverPostgres }),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Platforms to connect").
				Options(platformOpts...).
				Value(&a.Platforms),
			huh.NewInput().
				Title("Gateway listen address").
				Value(&a.Bind).
				Validate(func(s string) error {
					_, _, err := net.SplitHostPort(s)
					return err
				}),
			huh.NewConfirm().
				Title("Require a bearer token on the control API?").
				Value(&a.ProtectAPI),
		),
	)
	return form.Run()
}

var configTemplate = template.Must(template.New("cadence.yaml").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
}).Parse(`version: "1"
log_level: info

storage:
  driver: {{ .Driver }}
{{- if eq .Driver "postgres" }}
  postgres:
    dsn: {{ printf "%q" .PostgresDSN }}
{{- end }}

oauth:
  state_ttl: 10m
  serialize_refresh: true

platforms:
{{- range .Platforms }}
  {{ .Name }}:
    client_id: ${ {{- upper .Name }}_CLIENT_ID}
    client_secret: ${ {{- upper .Name }}_CLIENT_SECRET}
    auth_url: {{ .AuthURL }}
    token_url: {{ .TokenURL }}
{{- if .PostURL }}
    post_url: {{ .PostURL }}
{{- end }}
    scopes: [{{ range $i, $s := .Scopes }}{{ if $i }}, {{ end }}{{ $s }}{{ end }}]
{{- else }} {}
{{- end }}

scheduler:
  default_max_attempts: 3
  base_delay: 30s

recurring:
  timezone: UTC
  token_refresh_schedule: "0 */6 * * *"
  analytics_hour: 2
  cleanup_schedule: "0 3 * * 0"

gateway:
  bind: {{ .Bind }}
{{- if .ProtectAPI }}
  auth:
    bearer_token: ${CADENCE_API_TOKEN}
{{- end }}
`))

// renderConfig produces the starter YAML for a.
func renderConfig(a initAnswers) ([]byte, error) {
	data := struct {
		Driver      string
		PostgresDSN string
		Platforms   []platformPreset
		Bind        string
		ProtectAPI  bool
	}{Driver: a.Driver, PostgresDSN: a.PostgresDSN, Bind: a.Bind, ProtectAPI: a.ProtectAPI}
	for _, p := range presets {
		for _, name := range a.Platforms {
			if p.Name == name {
				data.Platforms = append(data.Platforms, p)
			}
		}
	}

	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("init: render config: %w", err)
	}
	return buf.Bytes(), nil
}

// envVars lists the variables the rendered config references.
func envVars(a initAnswers) []string {
	var out []string
	for _, name := range a.Platforms {
		up := strings.ToUpper(name)
		out = append(out, up+"_CLIENT_ID", up+"_CLIENT_SECRET")
	}
	if a.ProtectAPI {
		out = append(out, "CADENCE_API_TOKEN")
	}
	return out
}
