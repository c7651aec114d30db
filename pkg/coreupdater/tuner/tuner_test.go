package tuner

import (
	"runtime"
	"testing"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	resources, err := Detect()
	require.NoError(t, err)

	assert.Equal(t, runtime.NumCPU(), resources.CPUCores)
	assert.Positive(t, resources.TotalRAM)
	assert.LessOrEqual(t, resources.AvailableRAM, resources.TotalRAM)
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{in: "low", want: TierLow},
		{in: "NORMAL", want: TierNormal},
		{in: " High ", want: TierHigh},
		{in: "", want: TierNormal},
		{in: "turbo", want: TierNormal, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculate(t *testing.T) {
	big := SystemResources{CPUCores: 32, TotalRAM: 64 << 30, AvailableRAM: 32 << 30}

	tests := []struct {
		name        string
		tier        Tier
		resources   SystemResources
		wantBudget  process.Budget
		wantWorkers int
	}{
		{
			name:        "low tier runs one step per call",
			tier:        TierLow,
			resources:   big,
			wantBudget:  process.Budget{MaxSteps: 1, MaxDuration: 10 * time.Second},
			wantWorkers: 1,
		},
		{
			name:        "normal tier caps workers at four",
			tier:        TierNormal,
			resources:   big,
			wantBudget:  process.Budget{MaxSteps: 5, MaxDuration: 20 * time.Second},
			wantWorkers: 4,
		},
		{
			name:        "high tier scales with cores up to the cap",
			tier:        TierHigh,
			resources:   big,
			wantBudget:  process.Budget{MaxSteps: 20, MaxDuration: 30 * time.Second},
			wantWorkers: maxHashWorkers,
		},
		{
			name:        "high tier on a small machine",
			tier:        TierHigh,
			resources:   SystemResources{CPUCores: 2, AvailableRAM: 4 << 30},
			wantBudget:  process.Budget{MaxSteps: 20, MaxDuration: 30 * time.Second},
			wantWorkers: 4,
		},
		{
			name:        "low memory limits hashing",
			tier:        TierHigh,
			resources:   SystemResources{CPUCores: 8, AvailableRAM: 256 << 20},
			wantBudget:  process.Budget{MaxSteps: 20, MaxDuration: 30 * time.Second},
			wantWorkers: 2,
		},
		{
			name:        "unknown tier behaves as normal",
			tier:        Tier("odd"),
			resources:   SystemResources{CPUCores: 0},
			wantBudget:  process.Budget{MaxSteps: 5, MaxDuration: 20 * time.Second},
			wantWorkers: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.tier, tt.resources)
			assert.Equal(t, tt.wantBudget, got.Budget)
			assert.Equal(t, tt.wantWorkers, got.HashWorkers)
			assert.Equal(t, DefaultChunkSize, got.ChunkSize)
		})
	}
}
