package examplegen

import (
	"context"
	"os"
	"path/filepath"
	"reflect"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/io/textio"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/x/beamx"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func init() {
	beam.RegisterType(reflect.TypeOf((*splitFilterFn)(nil)).Elem())
	beam.RegisterFunction(TextSource)
}

// recordFileName mimics the sharded file naming of the historical executor;
// textio writes a single shard.
const recordFileName = "data-00000-of-00001.jsonl"

// SourceFn turns an input split pattern into a PCollection of serialized
// example lines. TextSource covers inputs that already are JSON-line
// examples; callers with other raw formats plug in their own conversion, the
// same way executor subclasses provided their input transform historically.
type SourceFn func(s beam.Scope, pattern string) beam.PCollection

// TextSource reads records that already are serialized examples, one per
// line.
func TextSource(s beam.Scope, pattern string) beam.PCollection {
	return textio.Read(s, pattern)
}

// Executor runs the example-generation Beam pipeline.
type Executor struct {
	// Source converts an input split into serialized example records.
	// Defaults to TextSource.
	Source SourceFn
}

// Do generates the output example splits under outputDir, one
// "Split-<name>" directory per output split. Outputs are staged under a
// run-unique directory and only moved into place after the pipeline
// succeeds, so a failed run leaves no partial splits behind.
func (e *Executor) Do(ctx context.Context, input Input, output Output, outputDir string) error {
	if err := validate(input, output); err != nil {
		return err
	}
	source := e.Source
	if source == nil {
		source = TextSource
	}

	runID := uuid.NewString()
	staging := filepath.Join(outputDir, ".staging-"+runID)
	defer func() { _ = os.RemoveAll(staging) }()

	splitNames := outputSplitNames(input, output)
	for _, name := range splitNames {
		if err := os.MkdirAll(filepath.Join(staging, "Split-"+name), 0o755); err != nil {
			return errors.Wrapf(err, "creating staging directory for split %q", name)
		}
	}

	p := beam.NewPipeline()
	s := p.Root()
	if cfg := output.SplitConfig; cfg != nil && len(cfg.Splits) > 0 {
		// Output splitting: one input split re-partitioned into hash buckets.
		col := source(s.Scope("ReadInput"), input.Splits[0].Pattern)
		for idx, split := range cfg.Splits {
			filtered := beam.ParDo(s.Scope("Partition-"+split.Name), &splitFilterFn{
				Splits:               cfg.Splits,
				PartitionFeatureName: cfg.PartitionFeatureName,
				Index:                idx,
			}, col)
			textio.Write(s.Scope("Write-"+split.Name),
				filepath.Join(staging, "Split-"+split.Name, recordFileName), filtered)
		}
	} else {
		// Input splitting: splits pass through unchanged.
		for _, split := range input.Splits {
			col := source(s.Scope("Read-"+split.Name), split.Pattern)
			textio.Write(s.Scope("Write-"+split.Name),
				filepath.Join(staging, "Split-"+split.Name, recordFileName), col)
		}
	}

	if err := beamx.Run(ctx, p); err != nil {
		return errors.Wrap(err, "example generation pipeline failed")
	}

	for _, name := range splitNames {
		from := filepath.Join(staging, "Split-"+name)
		to := filepath.Join(outputDir, "Split-"+name)
		if err := os.Rename(from, to); err != nil {
			return errors.Wrapf(err, "publishing split %q", name)
		}
	}
	klog.V(1).Infof("Example generation run %s produced splits %v under %s", runID, splitNames, outputDir)
	return nil
}

func outputSplitNames(input Input, output Output) []string {
	if cfg := output.SplitConfig; cfg != nil && len(cfg.Splits) > 0 {
		names := make([]string, len(cfg.Splits))
		for ii, split := range cfg.Splits {
			names[ii] = split.Name
		}
		return names
	}
	names := make([]string, len(input.Splits))
	for ii, split := range input.Splits {
		names[ii] = split.Name
	}
	return names
}

// splitFilterFn keeps the records whose partition index matches Index. Each
// output split runs its own copy over the shared input collection, which
// keeps the pipeline shape static regardless of how many splits are
// configured.
type splitFilterFn struct {
	Splits               []Split `json:"splits"`
	PartitionFeatureName string  `json:"partition_feature_name"`
	Index                int     `json:"index"`
}

func (f *splitFilterFn) ProcessElement(line string, emit func(string)) error {
	idx, err := partitionIndex(line, f.Splits, f.PartitionFeatureName)
	if err != nil {
		return err
	}
	if idx == f.Index {
		emit(line)
	}
	return nil
}
