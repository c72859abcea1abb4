package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// toJSON returns the file content as JSON so both formats go through the same
// strict decoder.
func toJSON(path string, data []byte) ([]byte, error) {
	if !isYAML(path) {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(stringKeys(v))
}

// stringKeys rewrites map[any]any (non-string YAML keys) so the value can be
// encoded as JSON.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
	case []any:
		for i, v := range x {
			x[i] = stringKeys(v)
		}
	}
	return in
}

// naptimeDocs annotates the naptime keys in a generated YAML file.
var naptimeDocs = map[string]string{
	"sleepTime":                      "milliseconds the tick loop sleeps per micro-sleep",
	"startSleepDelay":                "ticks after startup before the first check",
	"ticksAwakeBetweenSleep":         "ticks between checks",
	"alsoSleepSomeInternalProcesses": "park background workers during each micro-sleep",
	"sleepAllInternalProcesses":      "park every worker, ignoring internalProcessesToSleep",
	"internalProcessesToSleep":       "worker name prefixes to park",
	"unloadChunks":                   "unload world regions when hibernation starts",
	"callGarbageCollect":             "run the garbage collector after unloading",
	"saveOnUnload":                   "save regions and worlds while unloading",
	"commandsToExecuteOnSleep":       "console commands run when hibernation starts",
	"commandsToExecuteOnWake":        "console commands run when a client wakes the host",
}

// WriteDefault writes Default() to path, creating parent directories. YAML
// output carries comments for the naptime keys.
func WriteDefault(path string) error {
	b, err := encodeFor(path, Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func encodeFor(path string, cfg *Config) ([]byte, error) {
	jb, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if !isYAML(path) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, jb, "", "  "); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}

	// JSON is YAML; decoding into a node keeps the struct field order.
	var doc yaml.Node
	if err := yaml.Unmarshal(jb, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	if len(doc.Content) == 1 {
		root := doc.Content[0]
		root.HeadComment = "naptimed configuration. Changes are picked up without a restart\nexcept in the host, storage and systemd sections."
		if n := mappingValue(root, "naptime"); n != nil {
			for i := 0; i+1 < len(n.Content); i += 2 {
				n.Content[i].LineComment = naptimeDocs[n.Content[i].Value]
			}
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// blockStyle drops the flow and quoting styles inherited from JSON. Empty
// collections stay in flow style so they render as [] and {}.
func blockStyle(n *yaml.Node) {
	if (n.Kind == yaml.SequenceNode || n.Kind == yaml.MappingNode) && len(n.Content) == 0 {
		n.Style = yaml.FlowStyle
	} else {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
