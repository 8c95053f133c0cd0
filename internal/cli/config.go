package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/registry"
	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
	"github.com/surrealdb/surrealmirror/pkg/session"
	"github.com/surrealdb/surrealmirror/pkg/supervisor"
)

// TargetConfig is one mirror relayed into one backend, as given by flags or
// by an entry of the config file.
type TargetConfig struct {
	Name       string `yaml:"name"`
	MirrorURL  string `yaml:"mirror_url"`
	ClientURL  string `yaml:"client_url"`
	ClientName string `yaml:"client_name"`
	Namespace  string `yaml:"namespace"`
	// Protocol, when set, must match the backend's protocol.
	Protocol string `yaml:"protocol"`
}

// FileConfig is the layout of the --config file. Top level values are
// defaults for every target.
type FileConfig struct {
	MirrorURL string         `yaml:"mirror_url"`
	WireCodec string         `yaml:"wire_codec"`
	Targets   []TargetConfig `yaml:"targets"`
}

// RelayOptions holds the flags shared by run and provision.
type RelayOptions struct {
	*RootOptions
	Target     TargetConfig
	ConfigPath string

	WireCodec               string
	ConnectTimeout          time.Duration
	OpTimeout               time.Duration
	ReportInterval          time.Duration
	MaxRetries              int
	StalenessGuard          bool
	NoopErrors              string
	RestartOnAdapterFailure bool

	reg *backend.Registry
}

func (o *RelayOptions) addTargetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.Target.MirrorURL, "mirror_url", "m", getEnvOrDefault(EnvMirrorURL, ""), "mirror server url (env "+EnvMirrorURL+")")
	f.StringVarP(&o.Target.ClientURL, "client_url", "u", getEnvOrDefault(EnvClientURL, ""), "downstream store url (env "+EnvClientURL+")")
	f.StringVarP(&o.Target.ClientName, "client_name", "n", getEnvOrDefault(EnvClientName, ""), "backend name, see the backends command (env "+EnvClientName+")")
	f.StringVarP(&o.Target.Namespace, "namespace", "s", getEnvOrDefault(EnvNamespace, ""), "primary structure in the store (env "+EnvNamespace+")")
	f.StringVarP(&o.Target.Protocol, "protocol", "p", "", "expected protocol (full|simple); defaults to the backend's")
	f.StringVar(&o.ConfigPath, "config", "", "YAML file listing several targets")
}

func (o *RelayOptions) addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.WireCodec, "wire-codec", codec.JSONName, "mirror frame encoding (json|cbor)")
	f.DurationVar(&o.ConnectTimeout, "connect-timeout", connection.DefaultHandshakeTimeout, "websocket handshake timeout")
	f.DurationVar(&o.OpTimeout, "op-timeout", session.DefaultOpTimeout, "bound on every backend call; negative disables it")
	f.DurationVar(&o.ReportInterval, "report-interval", session.DefaultReportInterval, "throughput log interval, at most 1s")
	f.BoolVar(&o.StalenessGuard, "staleness-guard", true, "skip mutations older than the record's checkpoint")
	f.IntVar(&o.MaxRetries, "max-retries", 0, "session restarts before giving up; 0 restarts forever")
	f.StringVar(&o.NoopErrors, "noop-errors", string(session.NoopFail), "heartbeat checkpoint failures (fail|continue)")
	f.BoolVar(&o.RestartOnAdapterFailure, "restart-on-adapter-failure", true, "restart the session after a backend failure")
}

// targets merges the flag target with the config file, if any. Targets
// from the file inherit the flag's mirror url when they set none.
func (o *RelayOptions) targets() ([]TargetConfig, string, error) {
	wire := o.WireCodec
	if o.ConfigPath == "" {
		t := o.Target
		if t.Name == "" {
			t.Name = t.ClientName
		}
		return []TargetConfig{t}, wire, nil
	}

	raw, err := os.ReadFile(o.ConfigPath)
	if err != nil {
		return nil, "", configError("read config", err)
	}
	var file FileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, "", configError("parse config", err)
	}
	if len(file.Targets) == 0 {
		return nil, "", configError("parse config", errors.New("no targets"))
	}
	if file.WireCodec != "" {
		wire = file.WireCodec
	}

	seen := make(map[string]bool, len(file.Targets))
	out := make([]TargetConfig, 0, len(file.Targets))
	for i, t := range file.Targets {
		if t.MirrorURL == "" {
			t.MirrorURL = file.MirrorURL
		}
		if t.MirrorURL == "" {
			t.MirrorURL = o.Target.MirrorURL
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s-%d", t.ClientName, i)
		}
		if seen[t.Name] {
			return nil, "", configError("parse config", fmt.Errorf("target %q listed twice", t.Name))
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out, wire, nil
}

func (o *RelayOptions) registry() *backend.Registry {
	if o.reg == nil {
		o.reg = registry.Default()
	}
	return o.reg
}

// checkTarget validates the parts of t that need no network.
func (o *RelayOptions) checkTarget(t TargetConfig) (backend.Registration, error) {
	if t.ClientName == "" {
		return backend.Registration{}, configError("target "+t.Name, errors.New("client_name is required"))
	}
	reg, err := o.registry().Lookup(t.ClientName)
	if err != nil {
		return backend.Registration{}, configError("target "+t.Name, err)
	}
	if t.Protocol != "" {
		want, err := models.ParseProtocolKind(t.Protocol)
		if err != nil {
			return backend.Registration{}, configError("target "+t.Name, err)
		}
		if want != reg.Protocol {
			return backend.Registration{}, configError("target "+t.Name,
				fmt.Errorf("backend %s speaks the %s protocol, not %s", reg.Name, reg.Protocol, want))
		}
	}
	return reg, nil
}

func (o *RelayOptions) backendOptions(t TargetConfig, log logger.Logger, guard bool) backend.Options {
	return backend.Options{
		URL:            t.ClientURL,
		Namespace:      t.Namespace,
		Logger:         log,
		StalenessGuard: guard,
	}
}

// supervisors builds one supervisor per target.
func (o *RelayOptions) supervisors(log logger.Logger) ([]*supervisor.Supervisor, error) {
	targets, wire, err := o.targets()
	if err != nil {
		return nil, err
	}
	c, err := codec.Lookup(wire)
	if err != nil {
		return nil, configError("invalid flags", err)
	}
	noop, err := session.ParseNoopPolicy(o.NoopErrors)
	if err != nil {
		return nil, configError("invalid flags", err)
	}

	sups := make([]*supervisor.Supervisor, 0, len(targets))
	for _, t := range targets {
		if _, err := o.checkTarget(t); err != nil {
			return nil, err
		}
		conn, err := connection.NewConfig(t.MirrorURL)
		if err != nil {
			return nil, configError("target "+t.Name, err)
		}
		conn.Token = os.Getenv(connection.TokenEnv)
		conn.HandshakeTimeout = o.ConnectTimeout
		conn.Codec = c

		tlog := logger.With(log, "target", t.Name)
		conn.Logger = tlog

		target := &supervisor.Target{
			Name:           t.Name,
			Backend:        t.ClientName,
			BackendOptions: o.backendOptions(t, tlog, o.StalenessGuard),
			Connection:     conn,
			Session: session.Config{
				OpTimeout:      o.OpTimeout,
				ReportInterval: o.ReportInterval,
				NoopErrors:     noop,
				Logger:         tlog,
			},
			Registry: o.registry(),
			Dialer:   gorillaws.Dialer{},
			Logger:   tlog,
		}

		var retryer supervisor.Retryer = supervisor.NewExponentialBackoffRetryer()
		if o.MaxRetries > 0 {
			r := supervisor.NewExponentialBackoffRetryer()
			r.MaxRetries = o.MaxRetries
			retryer = r
		}
		sups = append(sups, &supervisor.Supervisor{
			Name:                    t.Name,
			Attempt:                 target.Attempt,
			Retryer:                 retryer,
			RestartOnAdapterFailure: o.RestartOnAdapterFailure,
			Logger:                  log,
		})
	}
	return sups, nil
}
