package servingbins

import (
	"strconv"
	"strings"
)

// TF Serving expects models laid out as <base>/<model_name>/<version>; these
// helpers translate between that flavor and the base path the server scans.
// Paths may be local or remote URIs, so only '/' segments are manipulated,
// never the scheme.

// MakeModelPath renders a TF Serving flavored model path.
func MakeModelPath(basePath, modelName string, version int) string {
	return strings.TrimSuffix(basePath, "/") + "/" + modelName + "/" + strconv.Itoa(version)
}

// ParseModelBasePath strips the version and model name segments from a TF
// Serving flavored model path. A path without enough segments is returned
// unchanged.
func ParseModelBasePath(modelPath string) string {
	trimmed := strings.TrimSuffix(modelPath, "/")
	for ii := 0; ii < 2; ii++ {
		cut := strings.LastIndexByte(trimmed, '/')
		if cut <= 0 {
			return modelPath
		}
		trimmed = trimmed[:cut]
	}
	return trimmed
}
