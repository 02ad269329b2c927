package enablement

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is the single authority over enablement state. All reads and writes
// go through it; persistence is explicit via Save.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *slog.Logger

	settings Settings
	servers  map[string]struct{}
	tools    map[string]map[string]struct{}
	resrcs   map[string]map[string]struct{}
	prompts  map[string]map[string]struct{}
}

// Options configure a Store.
type Options struct {
	// Path is the persistence location. Defaults to
	// ~/.config/mcp-explorer/proxy-config.yaml.
	Path string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Path == "" {
		opts.Path = DefaultPath()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// DefaultPath returns the standard persistence location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "proxy-config.yaml"
	}
	return filepath.Join(home, ".config", "mcp-explorer", "proxy-config.yaml")
}

// NewStore builds an empty store with default settings. Use Load to read
// persisted state.
func NewStore(opts *Options) *Store {
	o := opts.withDefaults()
	s := &Store{path: o.Path, logger: o.Logger}
	s.reset(defaultRecord())
	return s
}

// Load replaces the in-memory state with the persisted record. A missing
// file is not an error and leaves defaults in place. A corrupt file also
// leaves defaults in place, but the parse failure is returned so callers
// can surface it.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("enablement: read %s: %w", s.path, err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("enablement state unreadable, using defaults", "path", s.path, "error", err)
		s.mu.Lock()
		s.reset(defaultRecord())
		s.mu.Unlock()
		return fmt.Errorf("enablement: parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.reset(rec)
	s.mu.Unlock()
	return nil
}

// reset installs a record. Caller holds the write lock (or owns the store
// exclusively, as in NewStore).
func (s *Store) reset(rec Record) {
	s.settings = rec.Settings.withDefaults()
	s.servers = make(map[string]struct{}, len(rec.EnabledServers))
	for _, key := range rec.EnabledServers {
		s.servers[key] = struct{}{}
	}
	s.tools = toSets(rec.EnabledTools)
	s.resrcs = toSets(rec.EnabledResources)
	s.prompts = toSets(rec.EnabledPrompts)
}

// Save writes the current state atomically: a temp file in the target
// directory is renamed over the destination.
func (s *Store) Save() error {
	s.mu.RLock()
	rec := s.record()
	s.mu.RUnlock()

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("enablement: encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("enablement: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".proxy-config-*.yaml")
	if err != nil {
		return fmt.Errorf("enablement: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("enablement: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("enablement: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("enablement: replace %s: %w", s.path, err)
	}
	return nil
}

// record snapshots state into the serializable shape. Caller holds a lock.
func (s *Store) record() Record {
	return Record{
		Settings:         s.settings,
		EnabledServers:   sortedKeys(s.servers),
		EnabledTools:     fromSets(s.tools),
		EnabledResources: fromSets(s.resrcs),
		EnabledPrompts:   fromSets(s.prompts),
	}
}

// Snapshot returns a copy of the persisted shape of the current state.
func (s *Store) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record()
}

// Settings returns the current proxy settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings applies fn to the settings under the write lock.
func (s *Store) UpdateSettings(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
	s.settings = s.settings.withDefaults()
}

// IsServerEnabled reports whether the server identified by key may be
// exposed. While no server has ever been enabled the answer is yes for
// everyone; the first explicit grant flips the model to allow-list.
func (s *Store) IsServerEnabled(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.servers) == 0 {
		return true
	}
	_, ok := s.servers[key]
	return ok
}

// IsToolEnabled reports whether a specific tool has been granted. Unlike
// servers, capabilities are never permissive: an absent server key or an
// unlisted tool both mean no.
func (s *Store) IsToolEnabled(key, tool string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setHas(s.tools, key, tool)
}

// IsResourceEnabled reports whether a specific resource URI has been granted.
func (s *Store) IsResourceEnabled(key, uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setHas(s.resrcs, key, uri)
}

// IsPromptEnabled reports whether a specific prompt has been granted.
func (s *Store) IsPromptEnabled(key, prompt string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setHas(s.prompts, key, prompt)
}

// EnableServer adds the server to the allow-list. Note the side effect on
// every other server: once the list is non-empty, servers not on it stop
// being exposed.
func (s *Store) EnableServer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = struct{}{}
}

// DisableServer removes the server from the allow-list. Its capability
// grants are kept, so re-enabling restores the previous exposure.
func (s *Store) DisableServer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, key)
}

// EnableAllForServer enables the server and clears its per-capability
// grants. It does not enumerate capabilities itself; callers that want
// every capability listed explicitly grant them afterwards from a
// discovery snapshot.
func (s *Store) EnableAllForServer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = struct{}{}
	delete(s.tools, key)
	delete(s.resrcs, key)
	delete(s.prompts, key)
}

// EnableTool grants a single tool on a server.
func (s *Store) EnableTool(key, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setAdd(s.tools, key, tool)
}

// DisableTool revokes a single tool grant.
func (s *Store) DisableTool(key, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setRemove(s.tools, key, tool)
}

// EnableResource grants a single resource URI on a server.
func (s *Store) EnableResource(key, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setAdd(s.resrcs, key, uri)
}

// DisableResource revokes a single resource grant.
func (s *Store) DisableResource(key, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setRemove(s.resrcs, key, uri)
}

// EnablePrompt grants a single prompt on a server.
func (s *Store) EnablePrompt(key, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setAdd(s.prompts, key, prompt)
}

// DisablePrompt revokes a single prompt grant.
func (s *Store) DisablePrompt(key, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setRemove(s.prompts, key, prompt)
}

// EnabledServerKeys returns the sorted allow-list. Empty means every server
// is currently exposed.
func (s *Store) EnabledServerKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.servers)
}

func setHas(m map[string]map[string]struct{}, key, member string) bool {
	set, ok := m[key]
	if !ok {
		return false
	}
	_, ok = set[member]
	return ok
}

func setAdd(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func setRemove(m map[string]map[string]struct{}, key, member string) {
	if set, ok := m[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func toSets(in map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(in))
	for key, members := range in {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		out[key] = set
	}
	return out
}

func fromSets(in map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(in))
	for key, set := range in {
		out[key] = sortedKeys(set)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
