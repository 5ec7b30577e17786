// internal/pipeline/planner_test.go
package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan_SingleClassSingleStage(t *testing.T) {
	plan := buildPlan(registeredSet(
		Registration{Validator: passing("a", CPUBound)},
		Registration{Validator: passing("b", CPUBound)},
		Registration{Validator: passing("c", CPUBound)},
	))

	require.Len(t, plan.Stages, 1)
	assert.Equal(t, CPUBound, plan.Stages[0].Class)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Order())
}

func TestBuildPlan_ClassChangeCutsStage(t *testing.T) {
	plan := buildPlan(registeredSet(
		Registration{Validator: passing("io1", IOBound)},
		Registration{Validator: passing("cpu1", CPUBound)},
		Registration{Validator: passing("cpu2", CPUBound)},
		Registration{Validator: passing("io2", IOBound)},
	))

	require.Len(t, plan.Stages, 3)
	assert.Equal(t, []string{"io1"}, stageNames(plan.Stages[0]))
	assert.Equal(t, []string{"cpu1", "cpu2"}, stageNames(plan.Stages[1]))
	assert.Equal(t, []string{"io2"}, stageNames(plan.Stages[2]))
}

func TestBuildPlan_DependencyCutsStage(t *testing.T) {
	plan := buildPlan(registeredSet(
		Registration{Validator: passing("a", CPUBound)},
		Registration{Validator: passing("b", CPUBound), DependsOn: []string{"a"}},
	))

	require.Len(t, plan.Stages, 2)
	assert.Equal(t, []string{"a"}, stageNames(plan.Stages[0]))
	assert.Equal(t, []string{"b"}, stageNames(plan.Stages[1]))
}

func TestBuildPlan_CostOrderInversionStaysTopological(t *testing.T) {
	// The cost order puts the dependent first; the plan must still run
	// its dependency in an earlier stage.
	plan := buildPlan(registeredSet(
		Registration{Validator: passing("b", CPUBound), DependsOn: []string{"a"}},
		Registration{Validator: passing("a", CPUBound)},
	))

	require.Len(t, plan.Stages, 2)
	assert.Equal(t, []string{"a"}, stageNames(plan.Stages[0]))
	assert.Equal(t, []string{"b"}, stageNames(plan.Stages[1]))
}

func TestBuildPlan_TopologicalForDiamond(t *testing.T) {
	plan := buildPlan(registeredSet(
		Registration{Validator: passing("root", CPUBound)},
		Registration{Validator: passing("left", CPUBound), DependsOn: []string{"root"}},
		Registration{Validator: passing("right", CPUBound), DependsOn: []string{"root"}},
		Registration{Validator: passing("sink", CPUBound), DependsOn: []string{"left", "right"}},
	))

	assert.Equal(t, []string{"root", "left", "right", "sink"}, plan.Order())
	require.Len(t, plan.Stages, 3)
	assert.Equal(t, []string{"left", "right"}, stageNames(plan.Stages[1]))
}

func TestValidateDependencies(t *testing.T) {
	tests := []struct {
		name    string
		regs    []Registration
		wantErr bool
	}{
		{
			name: "independent validators",
			regs: []Registration{
				{Validator: passing("a", CPUBound)},
				{Validator: passing("b", CPUBound)},
			},
		},
		{
			name: "chain",
			regs: []Registration{
				{Validator: passing("a", CPUBound)},
				{Validator: passing("b", CPUBound), DependsOn: []string{"a"}},
				{Validator: passing("c", CPUBound), DependsOn: []string{"b"}},
			},
		},
		{
			name: "unknown dependency",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"ghost"}},
			},
			wantErr: true,
		},
		{
			name: "self dependency",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"a"}},
			},
			wantErr: true,
		},
		{
			name: "two node cycle",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"b"}},
				{Validator: passing("b", CPUBound), DependsOn: []string{"a"}},
			},
			wantErr: true,
		},
		{
			name: "three node cycle",
			regs: []Registration{
				{Validator: passing("a", CPUBound), DependsOn: []string{"c"}},
				{Validator: passing("b", CPUBound), DependsOn: []string{"a"}},
				{Validator: passing("c", CPUBound), DependsOn: []string{"b"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDependencies(registeredSet(tt.regs...))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func stageNames(s Stage) []string {
	var out []string
	for _, v := range s.Validators {
		out = append(out, v.name())
	}
	return out
}
