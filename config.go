package lidgren

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
)

// Configuration holds the immutable (post-Start) tuning parameters for
// a Peer (spec.md §6). Fields carry an `env` tag in the same
// `NAME=default` / `NAME?=default` shape as pkg/atlas.Config, so a
// host application can load them from a .env file via
// UnmarshalEnv+envparse.Parse the same way cmd/atlas does.
type Configuration struct {
	// AppIdentifier must match on both sides of a handshake; a
	// mismatch is rejected with Disconnect (spec.md §6, §7).
	AppIdentifier string `env:"LIDGREN_APP_IDENTIFIER"`

	LocalAddress     string `env:"LIDGREN_LOCAL_ADDRESS?=0.0.0.0"`
	Port             int    `env:"LIDGREN_PORT=0"`
	BroadcastAddress string `env:"LIDGREN_BROADCAST_ADDRESS?=255.255.255.255"`
	DualStack        bool   `env:"LIDGREN_DUAL_STACK"`

	MaximumConnections int `env:"LIDGREN_MAX_CONNECTIONS=32"`

	ReceiveBufferSize              int `env:"LIDGREN_RECEIVE_BUFFER_SIZE=131071"`
	SendBufferSize                 int `env:"LIDGREN_SEND_BUFFER_SIZE=131071"`
	DefaultOutgoingMessageCapacity int `env:"LIDGREN_DEFAULT_OUTGOING_CAPACITY=16"`

	PingInterval            time.Duration `env:"LIDGREN_PING_INTERVAL=4s"`
	ConnectionTimeout       time.Duration `env:"LIDGREN_CONNECTION_TIMEOUT=25s"`
	ResendHandshakeInterval time.Duration `env:"LIDGREN_RESEND_HANDSHAKE_INTERVAL=3s"`
	MaximumHandshakeAttempts int          `env:"LIDGREN_MAX_HANDSHAKE_ATTEMPTS=5"`

	AutoFlushSendQueue bool `env:"LIDGREN_AUTO_FLUSH_SEND_QUEUE=true"`

	MaximumTransmissionUnit int           `env:"LIDGREN_MTU=1408"`
	AutoExpandMTU           bool          `env:"LIDGREN_AUTO_EXPAND_MTU"`
	ExpandMTUFailAttempts   int           `env:"LIDGREN_EXPAND_MTU_FAIL_ATTEMPTS=5"`
	ExpandMTUFrequency      time.Duration `env:"LIDGREN_EXPAND_MTU_FREQUENCY=2s"`

	// EnableApproval gates ReceivedInitiation connections at
	// RespondedAwaitingApproval until the host application calls
	// Connection.Approve or Connection.Deny (spec.md §12, supplemented
	// from the original NetIncomingMessageType.ConnectionApproval).
	EnableApproval bool `env:"LIDGREN_ENABLE_APPROVAL"`

	// EnabledMessageTypes controls which non-data library events are
	// released to the application through ReadMessage instead of only
	// being logged: DiscoveryResponse, NatIntroductionSuccess,
	// WarningMessage, StatusChanged (spec.md §6 "IncomingMessageType").
	// Defaults to IncomingMessageTypeAll (value 15).
	EnabledMessageTypes IncomingMessageType `env:"LIDGREN_ENABLED_MESSAGE_TYPES=15"`

	// Simulation (debug only, spec.md §6).
	SimulatedLoss             float64       `env:"LIDGREN_SIMULATED_LOSS=0"`
	SimulatedMinimumLatency   time.Duration `env:"LIDGREN_SIMULATED_MIN_LATENCY=0s"`
	SimulatedRandomLatency    time.Duration `env:"LIDGREN_SIMULATED_RANDOM_LATENCY=0s"`
	SimulatedDuplicatesChance float64       `env:"LIDGREN_SIMULATED_DUPLICATES_CHANCE=0"`

	LogLevel zerolog.Level `env:"LIDGREN_LOG_LEVEL=info"`

	// Logger, when non-nil, is used instead of NewDefaultLogger(). Not
	// settable via env (no wire representation).
	Logger *zerolog.Logger
}

// NewConfiguration returns a Configuration with every default from
// spec.md §6 applied; AppIdentifier is still required before Start.
func NewConfiguration(appIdentifier string) *Configuration {
	var c Configuration
	_ = c.UnmarshalEnv(nil, false)
	c.AppIdentifier = appIdentifier
	return &c
}

// UnmarshalEnv unmarshals environment-style KEY=VALUE pairs into c,
// applying the default from each field's env tag for any key not
// present in es (unless incremental is true), mirroring
// pkg/atlas.Config.UnmarshalEnv.
func (c *Configuration) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}
		key, val, _ := strings.Cut(env, "=")
		var unsettable bool
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case float64:
			if val == "" {
				cvf.SetFloat(0)
			} else if v, err := strconv.ParseFloat(val, 64); err == nil {
				cvf.SetFloat(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case IncomingMessageType:
			if val == "" {
				cvf.SetUint(0)
			} else if v, err := strconv.ParseUint(val, 0, 32); err == nil {
				cvf.SetUint(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		default:
			return fmt.Errorf("lidgren: unhandled config field type %T (%s)", cvf.Interface(), env)
		}
	}
	return nil
}

// LoadConfigurationFile parses a .env-format file (via
// hashicorp/go-envparse, as cmd/atlas does for its config file) and
// applies it on top of appIdentifier's defaults.
func LoadConfigurationFile(appIdentifier string, envFile string) (*Configuration, error) {
	m, err := envparse.Parse(strings.NewReader(envFile))
	if err != nil {
		return nil, fmt.Errorf("lidgren: parse configuration: %w", err)
	}
	es := make([]string, 0, len(m))
	for k, v := range m {
		es = append(es, k+"="+v)
	}
	c := NewConfiguration(appIdentifier)
	if err := c.UnmarshalEnv(es, true); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	l := NewDefaultLogger()
	return l.Level(c.LogLevel)
}
