package enablement

// Default values applied by Settings.withDefaults when a field is absent
// from the persisted file.
const (
	DefaultPort          = 3000
	DefaultMaxLogEntries = 1000
)

// Settings carries the proxy-wide knobs persisted alongside the allow-list.
type Settings struct {
	// Enabled gates the proxy as a whole. When false the proxy refuses to
	// serve regardless of per-server state.
	Enabled bool `yaml:"enabled"`
	// Port is the listen port for the proxy endpoint.
	Port int `yaml:"port"`
	// LoggingOn controls whether operations are recorded.
	LoggingOn bool `yaml:"loggingOn"`
	// MaxLogEntries bounds the in-memory operation log.
	MaxLogEntries int `yaml:"maxLogEntries"`
	// RateLimit, when set, caps proxied requests per second. Nil means
	// unlimited.
	RateLimit *float64 `yaml:"rateLimit,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.MaxLogEntries == 0 {
		s.MaxLogEntries = DefaultMaxLogEntries
	}
	return s
}

// Record is the on-disk shape of the enablement state. Capability maps are
// keyed by server key; each value lists the granted capability names.
type Record struct {
	Settings         Settings            `yaml:"settings"`
	EnabledServers   []string            `yaml:"enabledServers"`
	EnabledTools     map[string][]string `yaml:"enabledTools"`
	EnabledResources map[string][]string `yaml:"enabledResources"`
	EnabledPrompts   map[string][]string `yaml:"enabledPrompts"`
}

func defaultRecord() Record {
	return Record{
		Settings: Settings{
			Enabled:   true,
			LoggingOn: true,
		}.withDefaults(),
		EnabledTools:     map[string][]string{},
		EnabledResources: map[string][]string{},
		EnabledPrompts:   map[string][]string{},
	}
}

// ServerKey derives the stable identity of a server occurrence: the same
// name declared in two sources yields two distinct keys.
func ServerKey(sourcePath, name string) string {
	return sourcePath + ":" + name
}
