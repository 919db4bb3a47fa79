package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemfony/optevo/pkg/errs"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")

	doc := `
global:
  max_iterations: 500
  seed: 42
ea:
  pop_size: 20
  n_parents: 4
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadYAMLFile(path)
	require.NoError(t, err)

	assert.EqualValues(t, 500, cfg.Global.MaxIterations)
	assert.EqualValues(t, 42, cfg.Global.Seed)
	assert.Equal(t, 20, cfg.EA.PopSize)
	assert.Equal(t, 4, cfg.EA.NParents)
	// Untouched sections keep their defaults.
	assert.Equal(t, ModeSerial, cfg.Executor.Mode)
}

func TestLoadYAMLFileMissingReturnsError(t *testing.T) {
	_, err := LoadYAMLFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")

	doc := `{"global":{"max_iterations":200},"pso":{"n_neighborhoods":3,"n_members":6}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadJSONFile(path)
	require.NoError(t, err)

	assert.EqualValues(t, 200, cfg.Global.MaxIterations)
	assert.Equal(t, 3, cfg.PSO.NNeighborhoods)
	assert.Equal(t, 6, cfg.PSO.NMembers)
}

func TestValidateRequiresHaltCriterion(t *testing.T) {
	cfg := Default()
	cfg.Global.MaxIterations = 0
	cfg.Global.MaxMinutes = 0
	cfg.Global.HasQualityGoal = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestValidatePopSizeMustExceedNParents(t *testing.T) {
	cfg := Default()
	cfg.EA.PopSize = cfg.EA.NParents

	assert.Error(t, cfg.Validate())
}

func TestValidateMuCommaNuRequiresLambdaGENu(t *testing.T) {
	cfg := Default()
	cfg.EA.Sorting = "comma"
	cfg.EA.NParents = 10
	cfg.EA.PopSize = 15 // lambda = 5 < mu = 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MU_COMMA_NU")
}

func TestValidateMuCommaNuAcceptsLambdaGENu(t *testing.T) {
	cfg := Default()
	cfg.EA.Sorting = "comma"
	cfg.EA.NParents = 5
	cfg.EA.PopSize = 15 // lambda = 10 >= mu = 5

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownSortingScheme(t *testing.T) {
	cfg := Default()
	cfg.EA.Sorting = "bogus"

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownExecutorMode(t *testing.T) {
	cfg := Default()
	cfg.Executor.Mode = "bogus"

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsWaitFactorBelowOne(t *testing.T) {
	cfg := Default()
	cfg.Executor.WaitFactor = 0.5

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveGDStep(t *testing.T) {
	cfg := Default()
	cfg.GD.FiniteStep = 0

	assert.Error(t, cfg.Validate())
}
