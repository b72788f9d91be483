package valcore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalOptions is a stable, JSON-serializable projection of
// ValidationOptions: maps become sorted slices so two logically identical
// option sets always hash to the same fingerprint regardless of Go's
// randomized map iteration order.
type canonicalOptions struct {
	Syntax                    bool
	Security                  bool
	Style                     bool
	BestPractices             bool
	ErrorHandling             bool
	CustomRules               []kv
	SecuritySeverityThreshold int
	ExcludeRules              []string
	PerformanceThresholds     *PerformanceThresholds
	Parallel                  canonicalParallel
}

type kv struct {
	Key   string
	Value string
}

type canonicalParallel struct {
	Adaptive            bool
	MinCores            int
	MaxCPUPercent       float64
	MaxMemoryBytes      int64
	MaxConcurrentPhases int
	SequentialPhases    []string
}

func canonicalize(opts ValidationOptions) canonicalOptions {
	rules := make([]kv, 0, len(opts.CustomRules))
	for k, v := range opts.CustomRules {
		rules = append(rules, kv{Key: k, Value: v})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Key < rules[j].Key })

	excl := make([]string, 0, len(opts.ExcludeRules))
	for k := range opts.ExcludeRules {
		excl = append(excl, k)
	}
	sort.Strings(excl)

	seq := make([]string, 0, len(opts.Parallel.SequentialPhases))
	for k := range opts.Parallel.SequentialPhases {
		seq = append(seq, k)
	}
	sort.Strings(seq)

	return canonicalOptions{
		Syntax:                    opts.Syntax,
		Security:                  opts.Security,
		Style:                     opts.Style,
		BestPractices:             opts.BestPractices,
		ErrorHandling:             opts.ErrorHandling,
		CustomRules:               rules,
		SecuritySeverityThreshold: opts.SecuritySeverityThreshold,
		ExcludeRules:              excl,
		PerformanceThresholds:     opts.PerformanceThresholds,
		Parallel: canonicalParallel{
			Adaptive:            opts.Parallel.Adaptive,
			MinCores:            opts.Parallel.MinCores,
			MaxCPUPercent:       opts.Parallel.MaxCPUPercent,
			MaxMemoryBytes:      opts.Parallel.MaxMemoryBytes,
			MaxConcurrentPhases: opts.Parallel.MaxConcurrentPhases,
			SequentialPhases:    seq,
		},
	}
}

// Fingerprint computes the 256-bit content-address of a request: the code
// bytes combined with its canonicalized options. Two requests that differ
// only in map iteration order of CustomRules/ExcludeRules/SequentialPhases
// produce the same fingerprint.
func Fingerprint(language string, code []byte, opts ValidationOptions) (string, error) {
	payload := struct {
		Language string
		Options  canonicalOptions
	}{Language: language, Options: canonicalize(opts)}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", WrapError(ErrKindInternal, "failed to canonicalize options for fingerprint", err)
	}

	h := sha256.New()
	h.Write(encoded)
	h.Write(code)
	return hex.EncodeToString(h.Sum(nil)), nil
}
