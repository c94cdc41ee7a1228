package lento

import (
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nilsjohansson/lento/internal/engine"
)

// sessionKeyPattern matches the session property names Presto accepts.
var sessionKeyPattern = regexp.MustCompile(`^[a-z]+[a-z_.]*[a-z]+$`)

const (
	// DefaultPort is used when WithPort is not given.
	DefaultPort = 8080
	// DefaultProtocol is used when WithProtocol is not given.
	DefaultProtocol = "http"
	// DefaultPollInterval is used when WithPollInterval is not given.
	DefaultPollInterval = 1 * time.Second
	// DefaultMaxRetries is used when WithMaxRetries is not given.
	DefaultMaxRetries = 10
	// DefaultSocketTimeout is used when WithSocketTimeout is not given.
	DefaultSocketTimeout = 120 * time.Second
)

type sessionProperty struct {
	key   string
	value string // pre-serialized "key=value"
}

// Config collects everything needed to reach and authenticate against a
// Presto/Trino coordinator. Build one through New's options; it is
// immutable once a Client exists.
type Config struct {
	Hostname string
	Port     int
	Protocol string

	User               string
	Catalog            string
	Schema             string
	Timezone           string
	ParametricDatetime bool

	PollInterval  time.Duration
	SocketTimeout time.Duration
	MaxRetries    int

	Headers http.Header

	LogLevel    string
	Registerer  prometheus.Registerer
	Deserialize engine.Deserializer

	sessionProperties []sessionProperty
	httpClient        *http.Client
}

// Option configures a Config at New time. Each Option validates its own
// argument synchronously and returns an *InputError on failure.
type Option func(*Config) error

// WithPort overrides DefaultPort.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return inputErrorf("Port", "must be between 1 and 65535, got %d", port)
		}
		c.Port = port
		return nil
	}
}

// WithProtocol overrides DefaultProtocol. Must be "http" or "https".
func WithProtocol(protocol string) Option {
	return func(c *Config) error {
		if protocol != "http" && protocol != "https" {
			return inputErrorf("Protocol", `must be "http" or "https", got %q`, protocol)
		}
		c.Protocol = protocol
		return nil
	}
}

// WithUser sets the x-presto-user identity header.
func WithUser(user string) Option {
	return func(c *Config) error { c.User = user; return nil }
}

// WithCatalog sets the x-presto-catalog header.
func WithCatalog(catalog string) Option {
	return func(c *Config) error { c.Catalog = catalog; return nil }
}

// WithSchema sets the x-presto-schema header.
func WithSchema(schema string) Option {
	return func(c *Config) error { c.Schema = schema; return nil }
}

// WithTimezone sets the x-presto-time-zone header.
func WithTimezone(tz string) Option {
	return func(c *Config) error { c.Timezone = tz; return nil }
}

// WithParametricDatetime advertises the PARAMETRIC_DATETIME client
// capability.
func WithParametricDatetime(enabled bool) Option {
	return func(c *Config) error { c.ParametricDatetime = enabled; return nil }
}

// WithPollInterval overrides DefaultPollInterval, the delay between two
// requests to the same nextUri when the coordinator reports no progress.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return inputErrorf("PollInterval", "must be a positive duration, got %s", d)
		}
		c.PollInterval = d
		return nil
	}
}

// WithSocketTimeout overrides DefaultSocketTimeout, the per-request
// deadline bounding how long a single HTTP round trip, body included, may
// take. It is not reset by progress on the connection.
func WithSocketTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return inputErrorf("SocketTimeout", "must be a positive duration, got %s", d)
		}
		c.SocketTimeout = d
		return nil
	}
}

// WithMaxRetries overrides DefaultMaxRetries, the client-wide retry
// budget applied to every statement that doesn't override it via
// stream.WithMaxRetries.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return inputErrorf("MaxRetries", "must not be negative, got %d", n)
		}
		c.MaxRetries = n
		return nil
	}
}

// WithHeaders adds client-level HTTP headers sent on every request,
// overridden per-statement by stream.WithHeaders.
func WithHeaders(h http.Header) Option {
	return func(c *Config) error { c.Headers = h; return nil }
}

// WithLogLevel sets the structured logger's level ("debug", "info",
// "warn", "error"). Defaults to "info".
func WithLogLevel(level string) Option {
	return func(c *Config) error { c.LogLevel = level; return nil }
}

// WithMetricsRegisterer registers the client's Prometheus counters on
// reg instead of a private, unexposed registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error { c.Registerer = reg; return nil }
}

// WithDeserializer overrides engine.DefaultDeserializer's cell coercion.
func WithDeserializer(d engine.Deserializer) Option {
	return func(c *Config) error { c.Deserialize = d; return nil }
}

// WithHTTPClient overrides the default *http.Client used for every
// request, e.g. to configure TLS or a custom transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) error { c.httpClient = hc; return nil }
}

// WithSessionProperty seeds one session property as though it had
// already been set by a prior SET SESSION statement. value must be a
// string, a finite number, or a bool.
func WithSessionProperty(key string, value any) Option {
	return func(c *Config) error {
		if !sessionKeyPattern.MatchString(key) {
			return inputErrorf("SessionProperty", "key %q does not match %s", key, sessionKeyPattern.String())
		}
		serialized, err := serializeSessionValue(value)
		if err != nil {
			return err
		}
		c.sessionProperties = append(c.sessionProperties, sessionProperty{key: key, value: key + "=" + serialized})
		return nil
	}
}

func serializeSessionValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return "", inputErrorf("SessionProperty", "numeric value must be finite, got %v", v)
		}
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", inputErrorf("SessionProperty", "numeric value must be finite, got %v", v)
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", inputErrorf("SessionProperty", "value must be a string, number, or bool, got %T", value)
	}
}

func newConfig(hostname string, opts ...Option) (*Config, error) {
	if hostname == "" {
		return nil, inputErrorf("Hostname", "must not be empty")
	}
	c := &Config{
		Hostname:      hostname,
		Port:          DefaultPort,
		Protocol:      DefaultProtocol,
		PollInterval:  DefaultPollInterval,
		SocketTimeout: DefaultSocketTimeout,
		MaxRetries:    DefaultMaxRetries,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
