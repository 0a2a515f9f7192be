package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqstore/manifest"
)

const condaFixture = `name: training
channels:
  - conda-forge
  - defaults
dependencies:
  - python=3.11
  - numpy=1.26.4=py311h64a7726_0
  - pip>=24.0
  - scipy
  - pip:
      - requests==2.32.3
      - torch==2.3.1+cpu
`

func TestParseCondaEnvironment(t *testing.T) {
	env, err := manifest.ParseCondaEnvironment([]byte(condaFixture))
	require.NoError(t, err)

	assert.Equal(t, "training", env.Name)
	require.Len(t, env.Requirements, 6)

	py := env.Requirements[0]
	assert.Equal(t, "python", py.Name)
	assert.Equal(t, "dependencies", py.Section)
	assert.Equal(t, 1, py.Line)
	pin, ok := py.Pinned()
	require.True(t, ok)
	assert.Equal(t, "3.11", pin)

	numpy := env.Requirements[1]
	pin, ok = numpy.Pinned()
	require.True(t, ok)
	assert.Equal(t, "1.26.4", pin)

	pip := env.Requirements[2]
	assert.Equal(t, "pip", pip.Name)
	assert.Equal(t, []manifest.Comparison{{Op: ">=", Version: "24.0"}}, pip.Specifier)

	scipy := env.Requirements[3]
	assert.Empty(t, scipy.Specifier)

	reqs := env.Requirements[4]
	assert.Equal(t, "requests", reqs.Name)
	assert.Equal(t, "pip", reqs.Section)
	assert.Equal(t, 5, reqs.Line)

	torch := env.Requirements[5]
	pin, ok = torch.Pinned()
	require.True(t, ok)
	assert.Equal(t, "2.3.1+cpu", pin)
}

func TestParseCondaEnvironmentErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "invalid yaml",
			doc:  "dependencies: [",
		},
		{
			name: "bad conda spec",
			doc:  "dependencies:\n  - \"=1.0\"\n",
		},
		{
			name: "bad pip entry",
			doc:  "dependencies:\n  - pip:\n      - pkg==\n",
		},
		{
			name: "unsupported mapping",
			doc:  "dependencies:\n  - other:\n      - x\n",
		},
		{
			name: "pip section not a list",
			doc:  "dependencies:\n  - pip: yes\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.ParseCondaEnvironment([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseCondaSpecVariants(t *testing.T) {
	env, err := manifest.ParseCondaEnvironment([]byte(`dependencies:
  - pandas>=2.0,<3.0
`))
	require.NoError(t, err)
	require.Len(t, env.Requirements, 1)
	assert.Equal(t, []manifest.Comparison{
		{Op: ">=", Version: "2.0"},
		{Op: "<", Version: "3.0"},
	}, env.Requirements[0].Specifier)
}
