// Package servingbins organizes the model-server binaries the infra
// validator can launch, translating a serving spec into concrete container
// configuration: image references, environment variables and docker run
// parameters. It only produces configuration; actually running the container
// is the caller's business.
package servingbins

import (
	"os"

	"github.com/docker/docker/api/types/mount"
	"github.com/pkg/errors"
)

// ServingSpec selects which model servers to validate a model against. Only
// TensorFlow Serving is currently supported; each tag and each digest
// expands into its own ServingBinary.
type ServingSpec struct {
	ModelName string `json:"model_name"`

	TensorFlowServing *TensorFlowServingConfig `json:"tensorflow_serving,omitempty"`
}

// TensorFlowServingConfig configures the TensorFlow Serving flavor of
// serving binary.
type TensorFlowServingConfig struct {
	// ImageName overrides the default "tensorflow/serving" image.
	ImageName string   `json:"image_name,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Digests   []string `json:"digests,omitempty"`
}

// ServingBinary is one concrete model server to validate against.
type ServingBinary interface {
	// ContainerPort is the port the model server listens on inside the
	// container.
	ContainerPort() int

	// Image is the full container image reference.
	Image() string

	// MakeEnvVars builds the container environment. An empty modelPath means
	// the model is mounted at the server's default base path.
	MakeEnvVars(modelPath string) map[string]string

	// MakeDockerRunParams builds the parameters for running the container.
	// With needsMount the model path must be a local directory, which gets
	// bind-mounted read-only into the container; otherwise the path is
	// assumed to be a remote URI the server reads directly.
	MakeDockerRunParams(modelPath string, needsMount bool) (*DockerRunParams, error)
}

// DockerRunParams is the container-run configuration handed to whatever
// launches the validation container.
type DockerRunParams struct {
	Image string

	// AutoRemove tears the container down as soon as its process exits.
	AutoRemove bool

	// Detach runs the container in the background instead of streaming its
	// output.
	Detach bool

	// PublishAllPorts maps every exposed container port to the host.
	PublishAllPorts bool

	Environment map[string]string
	Mounts      []mount.Mount
}

// ParseServingBinaries expands a serving spec into the serving binaries it
// selects, one per image tag and one per image digest.
func ParseServingBinaries(spec ServingSpec) ([]ServingBinary, error) {
	if spec.TensorFlowServing == nil {
		return nil, errors.New("serving spec selects no serving binary")
	}
	config := spec.TensorFlowServing
	if len(config.Tags) == 0 && len(config.Digests) == 0 {
		return nil, errors.New("tensorflow_serving needs at least one tag or digest")
	}
	result := make([]ServingBinary, 0, len(config.Tags)+len(config.Digests))
	for _, tag := range config.Tags {
		binary, err := NewTensorFlowServing(spec.ModelName, config.ImageName, tag, "")
		if err != nil {
			return nil, err
		}
		result = append(result, binary)
	}
	for _, digest := range config.Digests {
		binary, err := NewTensorFlowServing(spec.ModelName, config.ImageName, "", digest)
		if err != nil {
			return nil, err
		}
		result = append(result, binary)
	}
	return result, nil
}

const (
	defaultImageName     = "tensorflow/serving"
	defaultGRPCPort      = 8500
	defaultModelBasePath = "/model"
)

// TensorFlowServing is the TensorFlow Serving binary.
type TensorFlowServing struct {
	modelName string
	image     string
}

// NewTensorFlowServing builds a TensorFlow Serving binary for the given
// model. Exactly one of tag and digest must be set; imageName defaults to
// "tensorflow/serving".
func NewTensorFlowServing(modelName, imageName, tag, digest string) (*TensorFlowServing, error) {
	if (tag == "") == (digest == "") {
		return nil, errors.New("exactly one of tag or digest should be used")
	}
	if imageName == "" {
		imageName = defaultImageName
	}
	image := imageName + ":" + tag
	if digest != "" {
		image = imageName + "@" + digest
	}
	return &TensorFlowServing{modelName: modelName, image: image}, nil
}

// ContainerPort returns the gRPC port of the model server.
func (t *TensorFlowServing) ContainerPort() int { return defaultGRPCPort }

// Image returns the full container image reference.
func (t *TensorFlowServing) Image() string { return t.image }

// MakeEnvVars builds the container environment. A non-empty modelPath must
// be in TF Serving flavor; its model base path is what the server scans.
func (t *TensorFlowServing) MakeEnvVars(modelPath string) map[string]string {
	modelBasePath := defaultModelBasePath
	if modelPath != "" {
		modelBasePath = ParseModelBasePath(modelPath)
	}
	return map[string]string{
		"MODEL_NAME":            t.modelName,
		"MODEL_BASE_PATH":       modelBasePath,
		"TF_CPP_MAX_VLOG_LEVEL": "3",
	}
}

// MakeDockerRunParams builds the docker run parameters for the serving
// container.
func (t *TensorFlowServing) MakeDockerRunParams(modelPath string, needsMount bool) (*DockerRunParams, error) {
	params := &DockerRunParams{
		Image:           t.image,
		AutoRemove:      true,
		Detach:          true,
		PublishAllPorts: true,
	}
	if !needsMount {
		// A remote URI: TF Serving reads it directly, only the environment
		// needs to point at it.
		params.Environment = t.MakeEnvVars(modelPath)
		return params, nil
	}

	info, err := os.Stat(modelPath)
	if err != nil || !info.IsDir() {
		return nil, errors.Errorf("model path %q is not a local directory", modelPath)
	}
	params.Environment = t.MakeEnvVars("")
	params.Mounts = []mount.Mount{{
		Type:     mount.TypeBind,
		Source:   modelPath,
		Target:   MakeModelPath(defaultModelBasePath, t.modelName, 1),
		ReadOnly: true,
	}}
	return params, nil
}
