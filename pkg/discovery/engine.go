package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Prober initializes a backend connection for a descriptor and fills in its
// status and capability lists. Implementations must report ordinary
// connection failures through MarkError rather than panicking; the engine
// contains panics regardless so one failing server never aborts a run.
type Prober interface {
	Probe(ctx context.Context, server *ServerDescriptor) *ServerDescriptor
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, server *ServerDescriptor) *ServerDescriptor

func (f ProberFunc) Probe(ctx context.Context, server *ServerDescriptor) *ServerDescriptor {
	return f(ctx, server)
}

// Options configure a discovery Engine.
type Options struct {
	// SourcePaths overrides the configuration locations to scan. When empty,
	// DefaultSourcePaths() is used.
	SourcePaths []string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Engine turns raw configuration sources into validated, probed,
// structurally distinct ConfigSource snapshots.
type Engine struct {
	prober Prober
	opts   Options
}

// NewEngine constructs an Engine around the given capability prober.
func NewEngine(prober Prober, opts *Options) *Engine {
	return &Engine{prober: prober, opts: opts.withDefaults()}
}

func (e *Engine) sourcePaths() []string {
	if len(e.opts.SourcePaths) > 0 {
		return e.opts.SourcePaths
	}
	return DefaultSourcePaths()
}

// DiscoverHierarchical loads every configuration source, validates each
// entry, probes the valid entries of one source concurrently, and emits one
// ConfigSource per location. Invalid entries are retained in Error status;
// probe failures are isolated per server; parse failures exclude only the
// affected source. Discovery always completes and returns a descriptor for
// every entry it started with.
func (e *Engine) DiscoverHierarchical(ctx context.Context) ([]ConfigSource, []SourceError) {
	raw, skipped := LoadSources(e.sourcePaths())
	for _, se := range skipped {
		e.opts.Logger.Warn("config source skipped", "path", se.Path, "reason", se.Reason)
	}

	sources := make([]ConfigSource, 0, len(raw))
	for _, rawSrc := range raw {
		descriptors := make([]*ServerDescriptor, len(rawSrc.Servers))
		for i, entry := range rawSrc.Servers {
			descriptors[i] = buildDescriptor(entry.Name, entry.Config, rawSrc.Path)
		}

		// Fan-out: probe every valid entry of this source concurrently and
		// wait for all of them, capturing successes and failures alike,
		// before the source's snapshot is emitted.
		g, probeCtx := errgroup.WithContext(ctx)
		for i, desc := range descriptors {
			if desc.Status == StatusError {
				continue
			}
			i, desc := i, desc
			g.Go(func() error {
				descriptors[i] = e.probeOne(probeCtx, desc)
				return nil
			})
		}
		_ = g.Wait()

		sources = append(sources, ConfigSource{Path: rawSrc.Path, Servers: descriptors})
	}
	return sources, skipped
}

// probeOne runs a single probe, converting a panic into an Error-status
// descriptor so sibling probes are never affected.
func (e *Engine) probeOne(ctx context.Context, desc *ServerDescriptor) (result *ServerDescriptor) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("probe panicked", "server", desc.Name, "source", desc.SourcePath, "panic", r)
			desc.MarkError(fmt.Sprintf("initialization failed: %v", r))
			result = desc
		}
	}()
	probed := e.prober.Probe(ctx, desc)
	if probed == nil {
		desc.MarkError("initialization failed: prober returned no descriptor")
		return desc
	}
	return probed
}

// DiscoverFlat produces the legacy flattened view across all sources. When
// two different sources declare the same name, the later-discovered server
// is renamed deterministically (name#2, name#3, ...) and keeps its declared
// name in OriginalName; a repeat within the same source overrides the
// earlier entry, matching same-file same-key semantics.
func (e *Engine) DiscoverFlat(ctx context.Context) []*ServerDescriptor {
	sources, _ := e.DiscoverHierarchical(ctx)
	return Flatten(sources)
}

// Flatten applies the cross-source collision policy to a hierarchical
// discovery result. The input descriptors are not mutated; renamed entries
// are clones.
func Flatten(sources []ConfigSource) []*ServerDescriptor {
	var flat []*ServerDescriptor
	index := make(map[string]int)

	for _, src := range sources {
		for _, desc := range src.Servers {
			name := desc.Name
			if at, exists := index[name]; exists {
				if flat[at].SourcePath == desc.SourcePath {
					// Same source redeclared the name: last write wins.
					flat[at] = desc
					continue
				}
				counter := 2
				unique := fmt.Sprintf("%s#%d", name, counter)
				for _, taken := index[unique]; taken; _, taken = index[unique] {
					counter++
					unique = fmt.Sprintf("%s#%d", name, counter)
				}
				renamed := desc.Clone()
				renamed.Name = unique
				renamed.OriginalName = name
				index[unique] = len(flat)
				flat = append(flat, renamed)
				continue
			}
			index[name] = len(flat)
			flat = append(flat, desc)
		}
	}
	return flat
}

// MergeSupplemental folds auto-detected descriptors into a flattened result.
// A supplemental server is added only when its name is not already present;
// it never overrides an explicitly configured server.
func MergeSupplemental(flat []*ServerDescriptor, supplemental []*ServerDescriptor) []*ServerDescriptor {
	existing := make(map[string]struct{}, len(flat))
	for _, desc := range flat {
		existing[desc.Name] = struct{}{}
	}
	for _, desc := range supplemental {
		if _, ok := existing[desc.Name]; ok {
			continue
		}
		existing[desc.Name] = struct{}{}
		flat = append(flat, desc)
	}
	return flat
}

// buildDescriptor converts one raw entry into a descriptor, preserving
// invalid entries as Error-status descriptors instead of dropping them.
func buildDescriptor(name string, config map[string]any, sourcePath string) *ServerDescriptor {
	desc := &ServerDescriptor{
		Name:       name,
		Kind:       KindStdio,
		Status:     StatusDisconnected,
		SourcePath: sourcePath,
	}
	if kind, err := kindOf(config); err == nil {
		desc.Kind = kind
	}
	if d, ok := config["description"].(string); ok {
		desc.Description = d
	}

	if err := Validate(name, config); err != nil {
		desc.MarkError(err.Error())
		return desc
	}

	switch desc.Kind {
	case KindStdio:
		desc.Command, _ = config["command"].(string)
		desc.Args = stringSlice(config["args"])
		desc.Env = stringMap(config["env"])
	case KindHTTP, KindSSE:
		desc.URL, _ = config["url"].(string)
		desc.Headers = stringMap(config["headers"])
	}
	return desc
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

func stringMap(raw any) map[string]string {
	items, ok := raw.(map[string]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make(map[string]string, len(items))
	for k, v := range items {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
