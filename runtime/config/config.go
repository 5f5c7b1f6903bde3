// Package config holds the process-wide GLOBAL_CONFIG read by every other
// package in the runtime. Values are layered: compiled-in defaults, then an
// optional YAML file, then CC_* environment variables, then any partial
// struct passed to SetConfig at runtime.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"goa.design/agentswarm/runtime/telemetry"
)

// ResqueStrategy selects how a client agent recovers from invalid model
// output. See Config.ResqueStrategy.
type ResqueStrategy string

const (
	// ResqueFlush appends a resque marker plus a synthetic flush prompt and
	// returns a random placeholder from EmptyOutputPlaceholders.
	ResqueFlush ResqueStrategy = "flush"
	// ResqueRecomplete re-asks the completion backend with an augmented
	// history instead of returning a placeholder.
	ResqueRecomplete ResqueStrategy = "recomplete"
	// ResqueCustom delegates recovery to a caller-registered callback.
	ResqueCustom ResqueStrategy = "custom"
)

// Config is the process-wide runtime configuration, equivalent to the
// spec's GLOBAL_CONFIG. Most scalar fields have a CC_* environment override
// (see applyEnv); ToolCallWatchdog, ClientRateLimitPerSecond and the
// function-valued fields have none and are set via YAML, SetConfig or code.
type Config struct {
	// ToolCallExceptionFlushPrompt is the synthetic user message appended to
	// history by the "flush" resque strategy.
	ToolCallExceptionFlushPrompt string `yaml:"tool_call_exception_flush_prompt"`
	// ToolCallExceptionRecompletePrompt is the synthetic user message
	// appended to history by the "recomplete" resque strategy.
	ToolCallExceptionRecompletePrompt string `yaml:"tool_call_exception_recomplete_prompt"`
	// ToolCallExceptionCustomFunction names a registered custom rescue
	// callback used when ResqueStrategy is ResqueCustom.
	ToolCallExceptionCustomFunction string `yaml:"tool_call_exception_custom_function"`
	// EmptyOutputPlaceholders are candidate strings returned by the "flush"
	// resque strategy; one is selected at random per rescue.
	EmptyOutputPlaceholders []string `yaml:"empty_output_placeholders"`
	// KeepMessages bounds the number of messages kept by history's
	// ToArrayForAgent truncation (spec §4.5 default 25).
	KeepMessages int `yaml:"keep_messages"`
	// ResqueStrategy selects the recovery strategy used by the client agent.
	ResqueStrategy ResqueStrategy `yaml:"resque_strategy"`
	// LoggerEnableLog is loaded from CC_LOGGER_ENABLE_LOG; no runtime
	// component reads it (the active logger is chosen with UseLogger).
	LoggerEnableLog bool `yaml:"logger_enable_log"`
	// LoggerEnableDebug is loaded from CC_LOGGER_ENABLE_DEBUG; no runtime
	// component reads it.
	LoggerEnableDebug bool `yaml:"logger_enable_debug"`
	// LoggerEnableInfo is loaded from CC_LOGGER_ENABLE_INFO; no runtime
	// component reads it.
	LoggerEnableInfo bool `yaml:"logger_enable_info"`
	// StorageSearchSimilarity is the minimum cosine similarity score a
	// storage search result must meet to be returned.
	StorageSearchSimilarity float32 `yaml:"storage_search_similarity"`
	// StorageSearchPool bounds how many candidate records a storage search
	// scores before ranking and truncating to the caller's requested count.
	StorageSearchPool int `yaml:"storage_search_pool"`
	// ProcessUUID is a process-unique identifier, set from CC_PROCESS_UUID.
	// Log lines and generated tool-call ids do not include it.
	ProcessUUID string `yaml:"-"`
	// SwarmDefaultAgent overrides a swarm schema's DefaultAgent when
	// non-empty; primarily useful for tests and demos.
	SwarmDefaultAgent string `yaml:"swarm_default_agent"`
	// AgentDefaultValidation is used when an AgentSchema omits Validate.
	// A non-empty return value is treated as a rejection reason.
	AgentDefaultValidation func(result string) string `yaml:"-"`
	// AgentHistoryFilter overrides the default history filter described in
	// spec §4.5 (keep only same-agent or user/assistant messages, since the
	// last flush).
	AgentHistoryFilter func(agentName string, msgs []HistoryFilterInput) []HistoryFilterInput `yaml:"-"`
	// AgentOutputTransform overrides the default (identity) output
	// transform applied before validation.
	AgentOutputTransform func(agentName, raw string) string `yaml:"-"`
	// AgentOutputMap overrides the default (identity) raw-completion-message
	// normalization described in spec §4.6 step 2.
	AgentOutputMap func(agentName string, raw any) any `yaml:"-"`
	// AgentSystemPrompt overrides an AgentSchema's System when non-empty.
	AgentSystemPrompt string `yaml:"agent_system_prompt"`
	// AgentDisallowedTags strips these substrings from completion output
	// before validation (a lightweight defense against leaked scratch tags).
	AgentDisallowedTags []string `yaml:"agent_disallowed_tags"`
	// AgentDisallowedSymbols strips these runes from completion output
	// before validation.
	AgentDisallowedSymbols []string `yaml:"agent_disallowed_symbols"`
	// ToolCallWatchdog bounds how long the turn engine waits for a tool
	// call to settle before logging a warning (spec §4.6, default 15s).
	ToolCallWatchdog time.Duration `yaml:"tool_call_watchdog"`
	// ClientRateLimitPerSecond caps completion calls issued per client per
	// second; zero disables throttling.
	ClientRateLimitPerSecond float64 `yaml:"client_rate_limit_per_second"`
	// SwarmAgentChangedFunction names a registered callback (see
	// RegisterSwarmAgentChangedFunction) consulted as the swarm-level
	// default for OnAgentChanged whenever a swarm's schema omits the
	// callback — the swarm-level analogue of AgentDefaultValidation,
	// layered under per-swarm callbacks the same way.
	SwarmAgentChangedFunction string `yaml:"swarm_agent_changed_function"`
	// GetClientLoggerAdapterFunction names a registered callback (see
	// RegisterGetClientLoggerAdapterFunction) used to build a per-client
	// telemetry.Logger in place of the connection-wide logger.
	GetClientLoggerAdapterFunction string `yaml:"get_client_logger_adapter_function"`
}

// HistoryFilterInput is the minimal view of a history entry passed to a
// custom AgentHistoryFilter, avoiding an import cycle with package model.
type HistoryFilterInput struct {
	Role      string
	AgentName string
	Content   string
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		ToolCallExceptionFlushPrompt:      "Please continue.",
		ToolCallExceptionRecompletePrompt: "Your previous output was invalid. Please try again.",
		EmptyOutputPlaceholders:           []string{"I'm sorry, I wasn't able to process that. Could you rephrase?"},
		KeepMessages:                      25,
		ResqueStrategy:                    ResqueFlush,
		LoggerEnableLog:                   true,
		LoggerEnableInfo:                  true,
		StorageSearchSimilarity:           0.65,
		StorageSearchPool:                 50,
		ToolCallWatchdog:                  15 * time.Second,
		ClientRateLimitPerSecond:          0,
	}
}

var (
	mu      sync.RWMutex
	current = Default()
)

// Get returns the current process-wide configuration. Callers must not
// mutate the returned value; use SetConfig instead.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	cp := *current
	return &cp
}

// SetConfig merges a partial configuration into the current one. Zero-value
// fields in partial are ignored, matching the spec's "override a subset of
// keys" semantics for setConfig.
func SetConfig(partial *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = merge(current, partial)
}

// Replace atomically replaces the entire configuration. Used by tests and by
// LoadFile for the initial load.
func Replace(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	cp := *c
	current = &cp
}

func merge(base, partial *Config) *Config {
	out := *base
	if partial.ToolCallExceptionFlushPrompt != "" {
		out.ToolCallExceptionFlushPrompt = partial.ToolCallExceptionFlushPrompt
	}
	if partial.ToolCallExceptionRecompletePrompt != "" {
		out.ToolCallExceptionRecompletePrompt = partial.ToolCallExceptionRecompletePrompt
	}
	if partial.ToolCallExceptionCustomFunction != "" {
		out.ToolCallExceptionCustomFunction = partial.ToolCallExceptionCustomFunction
	}
	if len(partial.EmptyOutputPlaceholders) > 0 {
		out.EmptyOutputPlaceholders = partial.EmptyOutputPlaceholders
	}
	if partial.KeepMessages != 0 {
		out.KeepMessages = partial.KeepMessages
	}
	if partial.ResqueStrategy != "" {
		out.ResqueStrategy = partial.ResqueStrategy
	}
	out.LoggerEnableLog = base.LoggerEnableLog || partial.LoggerEnableLog
	out.LoggerEnableDebug = base.LoggerEnableDebug || partial.LoggerEnableDebug
	out.LoggerEnableInfo = base.LoggerEnableInfo || partial.LoggerEnableInfo
	if partial.StorageSearchSimilarity != 0 {
		out.StorageSearchSimilarity = partial.StorageSearchSimilarity
	}
	if partial.StorageSearchPool != 0 {
		out.StorageSearchPool = partial.StorageSearchPool
	}
	if partial.ProcessUUID != "" {
		out.ProcessUUID = partial.ProcessUUID
	}
	if partial.SwarmDefaultAgent != "" {
		out.SwarmDefaultAgent = partial.SwarmDefaultAgent
	}
	if partial.AgentDefaultValidation != nil {
		out.AgentDefaultValidation = partial.AgentDefaultValidation
	}
	if partial.AgentHistoryFilter != nil {
		out.AgentHistoryFilter = partial.AgentHistoryFilter
	}
	if partial.AgentOutputTransform != nil {
		out.AgentOutputTransform = partial.AgentOutputTransform
	}
	if partial.AgentOutputMap != nil {
		out.AgentOutputMap = partial.AgentOutputMap
	}
	if partial.AgentSystemPrompt != "" {
		out.AgentSystemPrompt = partial.AgentSystemPrompt
	}
	if len(partial.AgentDisallowedTags) > 0 {
		out.AgentDisallowedTags = partial.AgentDisallowedTags
	}
	if len(partial.AgentDisallowedSymbols) > 0 {
		out.AgentDisallowedSymbols = partial.AgentDisallowedSymbols
	}
	if partial.ToolCallWatchdog != 0 {
		out.ToolCallWatchdog = partial.ToolCallWatchdog
	}
	if partial.ClientRateLimitPerSecond != 0 {
		out.ClientRateLimitPerSecond = partial.ClientRateLimitPerSecond
	}
	if partial.SwarmAgentChangedFunction != "" {
		out.SwarmAgentChangedFunction = partial.SwarmAgentChangedFunction
	}
	if partial.GetClientLoggerAdapterFunction != "" {
		out.GetClientLoggerAdapterFunction = partial.GetClientLoggerAdapterFunction
	}
	return &out
}

// LoadFile reads a YAML configuration file over the compiled-in defaults,
// then applies CC_* environment variable overrides, and replaces the
// process-wide configuration. A missing file is not an error: defaults plus
// environment overrides still apply.
func LoadFile(path string) error {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	Replace(cfg)
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CC_TOOL_CALL_EXCEPTION_FLUSH_PROMPT"); v != "" {
		cfg.ToolCallExceptionFlushPrompt = v
	}
	if v := os.Getenv("CC_TOOL_CALL_EXCEPTION_RECOMPLETE_PROMPT"); v != "" {
		cfg.ToolCallExceptionRecompletePrompt = v
	}
	if v := os.Getenv("CC_TOOL_CALL_EXCEPTION_CUSTOM_FUNCTION"); v != "" {
		cfg.ToolCallExceptionCustomFunction = v
	}
	if v := os.Getenv("CC_EMPTY_OUTPUT_PLACEHOLDERS"); v != "" {
		cfg.EmptyOutputPlaceholders = strings.Split(v, "|")
	}
	if v := os.Getenv("CC_KEEP_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeepMessages = n
		}
	}
	if v := os.Getenv("CC_RESQUE_STRATEGY"); v != "" {
		cfg.ResqueStrategy = ResqueStrategy(v)
	}
	if v := os.Getenv("CC_LOGGER_ENABLE_LOG"); v != "" {
		cfg.LoggerEnableLog = parseBool(v)
	}
	if v := os.Getenv("CC_LOGGER_ENABLE_DEBUG"); v != "" {
		cfg.LoggerEnableDebug = parseBool(v)
	}
	if v := os.Getenv("CC_LOGGER_ENABLE_INFO"); v != "" {
		cfg.LoggerEnableInfo = parseBool(v)
	}
	if v := os.Getenv("CC_STORAGE_SEARCH_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.StorageSearchSimilarity = float32(f)
		}
	}
	if v := os.Getenv("CC_STORAGE_SEARCH_POOL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StorageSearchPool = n
		}
	}
	if v := os.Getenv("CC_PROCESS_UUID"); v != "" {
		cfg.ProcessUUID = v
	}
	if v := os.Getenv("CC_SWARM_DEFAULT_AGENT"); v != "" {
		cfg.SwarmDefaultAgent = v
	}
	if v := os.Getenv("CC_AGENT_SYSTEM_PROMPT"); v != "" {
		cfg.AgentSystemPrompt = v
	}
	if v := os.Getenv("CC_AGENT_DISALLOWED_TAGS"); v != "" {
		cfg.AgentDisallowedTags = strings.Split(v, "|")
	}
	if v := os.Getenv("CC_AGENT_DISALLOWED_SYMBOLS"); v != "" {
		cfg.AgentDisallowedSymbols = strings.Split(v, "")
	}
	if v := os.Getenv("CC_SWARM_AGENT_CHANGED"); v != "" {
		cfg.SwarmAgentChangedFunction = v
	}
	if v := os.Getenv("CC_GET_CLIENT_LOGGER_ADAPTER"); v != "" {
		cfg.GetClientLoggerAdapterFunction = v
	}
}

var (
	resqueMu    sync.RWMutex
	resqueFuncs = map[string]func(ctx context.Context, clientID, reason string) string{}
)

// RegisterResqueFunction registers a named custom rescue callback, selected
// by setting ResqueStrategy to ResqueCustom and ToolCallExceptionCustomFunction
// to name.
func RegisterResqueFunction(name string, fn func(ctx context.Context, clientID, reason string) string) {
	resqueMu.Lock()
	resqueFuncs[name] = fn
	resqueMu.Unlock()
}

// ResqueFunction looks up a custom rescue callback previously registered
// with RegisterResqueFunction.
func ResqueFunction(name string) (func(ctx context.Context, clientID, reason string) string, bool) {
	resqueMu.RLock()
	defer resqueMu.RUnlock()
	fn, ok := resqueFuncs[name]
	return fn, ok
}

var (
	swarmAgentChangedMu    sync.RWMutex
	swarmAgentChangedFuncs = map[string]func(ctx context.Context, clientID, agentName string){}
)

// RegisterSwarmAgentChangedFunction registers a named callback, selected by
// setting SwarmAgentChangedFunction (or CC_SWARM_AGENT_CHANGED) to name.
func RegisterSwarmAgentChangedFunction(name string, fn func(ctx context.Context, clientID, agentName string)) {
	swarmAgentChangedMu.Lock()
	swarmAgentChangedFuncs[name] = fn
	swarmAgentChangedMu.Unlock()
}

// SwarmAgentChangedFunc looks up a callback previously registered with
// RegisterSwarmAgentChangedFunction.
func SwarmAgentChangedFunc(name string) (func(ctx context.Context, clientID, agentName string), bool) {
	swarmAgentChangedMu.RLock()
	defer swarmAgentChangedMu.RUnlock()
	fn, ok := swarmAgentChangedFuncs[name]
	return fn, ok
}

var (
	clientLoggerAdapterMu    sync.RWMutex
	clientLoggerAdapterFuncs = map[string]func(clientID string) telemetry.Logger{}
)

// RegisterGetClientLoggerAdapterFunction registers a named per-client logger
// factory, selected by setting GetClientLoggerAdapterFunction (or
// CC_GET_CLIENT_LOGGER_ADAPTER) to name.
func RegisterGetClientLoggerAdapterFunction(name string, fn func(clientID string) telemetry.Logger) {
	clientLoggerAdapterMu.Lock()
	clientLoggerAdapterFuncs[name] = fn
	clientLoggerAdapterMu.Unlock()
}

// GetClientLoggerAdapterFunc looks up a factory previously registered with
// RegisterGetClientLoggerAdapterFunction.
func GetClientLoggerAdapterFunc(name string) (func(clientID string) telemetry.Logger, bool) {
	clientLoggerAdapterMu.RLock()
	defer clientLoggerAdapterMu.RUnlock()
	fn, ok := clientLoggerAdapterFuncs[name]
	return fn, ok
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Watch starts watching path for changes and reloads the configuration
// whenever it is written, via fsnotify. The returned stop function closes
// the watcher. Intended for long-running processes that want live config
// reload without a restart; off by default (callers opt in explicitly).
func Watch(path string, onReload func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := LoadFile(path); err == nil && onReload != nil {
						onReload(Get())
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
