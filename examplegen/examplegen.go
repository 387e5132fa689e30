// Package examplegen converts raw data into split training example sets.
//
// It is the Go rendition of the example-generation executor: records flow
// through an Apache Beam pipeline, and are either kept in caller-provided
// input splits ("input splitting") or partitioned into hash buckets weighted
// by the output split configuration ("output splitting"). Splitting is
// deterministic: the same record always lands in the same split, either by
// hashing the whole serialized record or, when a partition feature is
// configured, by hashing that feature's value so that records sharing the
// value stay together.
package examplegen

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Feature is a single named value list of an Example. Exactly one of the
// lists should be set; an all-empty feature is treated as missing a value.
type Feature struct {
	Int64List []int64   `json:"int64_list,omitempty"`
	FloatList []float64 `json:"float_list,omitempty"`
	BytesList []string  `json:"bytes_list,omitempty"`
}

// Example is a training record: a mapping from feature name to feature.
// Examples serialize as single JSON lines.
type Example map[string]Feature

// ParseExample decodes a serialized example line.
func ParseExample(line string) (Example, error) {
	var example Example
	if err := json.Unmarshal([]byte(line), &example); err != nil {
		return nil, errors.Wrap(err, "parsing example record")
	}
	return example, nil
}

// Serialize encodes the example as a single JSON line.
func (e Example) Serialize() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "serializing example record")
	}
	return string(data), nil
}

// InputSplit names a set of raw input files selected by a glob pattern.
type InputSplit struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// Input configures where raw records come from. With several splits the
// executor passes each split through unchanged; with a single split an
// output split config may re-partition it.
type Input struct {
	Splits []InputSplit `json:"splits"`
}

// Split is one output split and its share of the hash bucket space: a config
// of train=2/eval=1 sends roughly two thirds of the records to "train".
type Split struct {
	Name        string `json:"name"`
	HashBuckets int    `json:"hash_buckets"`
}

// SplitConfig configures output splitting. When PartitionFeatureName is set,
// records are bucketed by that feature's value instead of by the whole
// record, so records sharing the value always land in the same split.
type SplitConfig struct {
	Splits               []Split `json:"splits"`
	PartitionFeatureName string  `json:"partition_feature_name,omitempty"`
}

// Output configures how example records are split on the way out. A nil or
// empty SplitConfig means the input splits pass through unchanged.
type Output struct {
	SplitConfig *SplitConfig `json:"split_config,omitempty"`
}

// partitionIndex returns the output split index for a serialized record.
// With a partition feature name, the feature's value is hashed; otherwise
// the whole line is. The errors for bad features deliberately match the
// executor's historical messages.
func partitionIndex(line string, splits []Split, featureName string) (int, error) {
	var key string
	if featureName == "" {
		key = line
	} else {
		example, err := ParseExample(line)
		if err != nil {
			return 0, err
		}
		key, err = featureKey(example, featureName)
		if err != nil {
			return 0, err
		}
	}

	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(key))
	bucket := int(hasher.Sum64() % uint64(totalBucketsOf(splits)))
	for idx, split := range splits {
		bucket -= split.HashBuckets
		if bucket < 0 {
			return idx, nil
		}
	}
	// Unreachable: the bucket is always below the sum of HashBuckets.
	return 0, errors.Errorf("bucket overflow for record %q", line)
}

func totalBucketsOf(splits []Split) int {
	total := 0
	for _, split := range splits {
		total += split.HashBuckets
	}
	return total
}

// featureKey renders the partition feature's value as a stable hash key.
// Only int64 and bytes features may be partitioned on: float equality is too
// fragile to group records by.
func featureKey(example Example, featureName string) (string, error) {
	feature, found := example[featureName]
	if !found {
		return "", fmt.Errorf("feature name `%s` does not exist", featureName)
	}
	switch {
	case len(feature.FloatList) > 0:
		return "", fmt.Errorf("only `bytes_list` and `int64_list` features are supported for partition")
	case len(feature.Int64List) > 0:
		rendered := make([]string, len(feature.Int64List))
		for ii, v := range feature.Int64List {
			rendered[ii] = strconv.FormatInt(v, 10)
		}
		return "i:" + strings.Join(rendered, ","), nil
	case len(feature.BytesList) > 0:
		return "b:" + strings.Join(feature.BytesList, ","), nil
	}
	return "", fmt.Errorf("partition feature does not contain any value")
}

func validate(input Input, output Output) error {
	if len(input.Splits) == 0 {
		return errors.New("at least one input split is required")
	}
	seen := make(map[string]bool, len(input.Splits))
	for _, split := range input.Splits {
		if split.Name == "" || split.Pattern == "" {
			return errors.Errorf("input split needs both a name and a pattern, got %+v", split)
		}
		if seen[split.Name] {
			return errors.Errorf("duplicate input split name %q", split.Name)
		}
		seen[split.Name] = true
	}

	cfg := output.SplitConfig
	if cfg == nil || len(cfg.Splits) == 0 {
		if len(input.Splits) < 2 {
			return errors.New("a single input split requires an output split config")
		}
		return nil
	}
	if len(input.Splits) != 1 {
		return errors.New("output split config requires exactly one input split")
	}
	for _, split := range cfg.Splits {
		if split.Name == "" {
			return errors.New("output split needs a name")
		}
		if split.HashBuckets <= 0 {
			return errors.Errorf("output split %q needs a positive hash_buckets", split.Name)
		}
	}
	return nil
}
