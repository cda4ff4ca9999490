package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes running every scenario in a directory.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one failed scenario.
type ScenarioFailure struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Errors []string `json:"errors"`
}

// ScenarioFiles lists the *.yaml and *.yml files in dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and runs every scenario in dir. A scenario that cannot be
// loaded or executed counts as failed.
func RunSuite(dir string) (*SuiteResult, error) {
	files, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	res := &SuiteResult{}
	for _, path := range files {
		res.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			res.fail(path, "", err.Error())
			continue
		}
		result, err := Run(scenario)
		if err != nil {
			res.fail(path, scenario.Name, err.Error())
			continue
		}
		if !result.Pass {
			res.fail(path, scenario.Name, result.Errors...)
			continue
		}
		res.Passed++
	}
	return res, nil
}

func (r *SuiteResult) fail(path, name string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Path: path, Name: name, Errors: errs})
}
