// Package fingerprint derives a stable run identity from configuration so
// independent workers rendezvous on the same coordination run.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/evalgo-org/docingest/internal/cerrors"
)

// ErrConfigInvalid is returned when required fields are missing from the
// configuration handed to Compute. It wraps cerrors.ErrConfigInvalid.
var ErrConfigInvalid = fmt.Errorf("fingerprint: %w", cerrors.ErrConfigInvalid)

// Source is the canonicalized identity of one content source: name, type,
// and its parameters. Parameter ordering never matters; key order is
// normalized by canonicalize.
type Source struct {
	Name         string            `json:"name" yaml:"name"`
	Type         string            `json:"type" yaml:"type"`
	Parameters   map[string]string `json:"parameters" yaml:"parameters"`
	Priority     int               `json:"priority" yaml:"priority"`
	MaxLinkDepth int               `json:"max_link_depth" yaml:"max_link_depth"`
}

// Input is the fingerprinted subset of configuration — the parts that
// affect the produced artifact set. Fields that do not (log level, worker
// count, timeouts, UI settings) must never be placed here.
type Input struct {
	Sources               []Source          `json:"sources"`
	EmbeddingProvider     string            `json:"embedding_provider"`
	EmbeddingModel        string            `json:"embedding_model"`
	EmbeddingDimensions   int               `json:"embedding_dimensions"`
	OntologyIDs           []string          `json:"ontology_ids"`
	OntologyVersions      map[string]string `json:"ontology_versions"`
	RelationshipDetection bool              `json:"relationship_detection"`
	StorageTarget         string            `json:"storage_target"`
}

// Result is the output of Compute: the full hash and its run_id prefix.
type Result struct {
	ConfigHash string
	RunID      string
}

// validate enforces the "required fields absent" failure mode from the
// config-fingerprint contract: a config with no sources or no storage
// target can never identify a run.
func (in Input) validate() error {
	if len(in.Sources) == 0 {
		return fmt.Errorf("%w: no content sources configured", ErrConfigInvalid)
	}
	if in.StorageTarget == "" {
		return fmt.Errorf("%w: no storage target configured", ErrConfigInvalid)
	}
	for i, s := range in.Sources {
		if s.Name == "" || s.Type == "" {
			return fmt.Errorf("%w: source %d missing name or type", ErrConfigInvalid, i)
		}
	}
	return nil
}

// Compute canonicalizes in and returns its SHA-256 fingerprint. Identical
// canonicalized configurations always produce the same Result, regardless
// of field or map-key order in the caller's original representation.
func Compute(in Input) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	canon, err := canonicalize(in)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint: canonicalize: %w", err)
	}

	sum := sha256.Sum256(canon)
	full := hex.EncodeToString(sum[:])
	return Result{
		ConfigHash: full,
		RunID:      full[:16],
	}, nil
}

// canonicalize produces the deterministic byte sequence described by the
// canonicalization rules: sorted map keys at every level, minimal numeric
// representation, no insignificant whitespace. encoding/json already emits
// compact output with no whitespace and (since Go 1.12) sorts map[string]V
// keys lexicographically when marshaling; round-tripping through
// map[string]interface{} normalizes nested struct field order to the same
// sorted-key representation.
func canonicalize(in Input) ([]byte, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return marshalCanonical(generic)
}

// marshalCanonical re-serializes a decoded JSON value with map keys sorted
// at every level. encoding/json already sorts map[string]interface{} keys,
// but we walk explicitly so the guarantee does not depend on that
// implementation detail persisting across Go versions.
func marshalCanonical(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []interface{}:
		var buf []byte
		buf = append(buf, '[')
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(val)
	}
}
