package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScope struct {
	outputs  map[string]interface{}
	bindings map[string]interface{}
	workflow map[string]interface{}
}

func (f *fakeScope) Output(name string) (interface{}, bool) {
	v, ok := f.outputs[name]
	return v, ok
}

func (f *fakeScope) Binding(name string) (interface{}, bool) {
	v, ok := f.bindings[name]
	return v, ok
}

func (f *fakeScope) WorkflowField(name string) (interface{}, bool) {
	v, ok := f.workflow[name]
	return v, ok
}

func TestEvaluate_Literals(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	v, err := e.Evaluate(`"hello"`, scope)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = e.Evaluate("42", scope)
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	v, err = e.Evaluate("true", scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = e.Evaluate(`["a", "b", "c"]`, scope)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, v)
}

func TestEvaluate_EqualityAndComparison(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	v, err := e.Evaluate(`"b" == "b"`, scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = e.Evaluate("1 == 2", scope)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = e.Evaluate("3 > 2", scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvaluate_LogicalOperators(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	v, err := e.Evaluate("true && false", scope)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = e.Evaluate("true || false", scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = e.Evaluate("!false", scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvaluate_TernaryConditional(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	v, err := e.Evaluate(`true ? "yes" : "no"`, scope)
	require.NoError(t, err)
	assert.Equal(t, "yes", v)
}

func TestEvaluate_OutputVariable(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{outputs: map[string]interface{}{
		"greet": map[string]interface{}{"name": "world"},
	}}

	v, err := e.Evaluate("output.greet.name", scope)
	require.NoError(t, err)
	assert.Equal(t, "world", v)
}

func TestEvaluate_LoopBinding(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{bindings: map[string]interface{}{"item": "x"}}

	v, err := e.Evaluate("item", scope)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestEvaluate_WorkflowField(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{workflow: map[string]interface{}{"name": "my-workflow"}}

	v, err := e.Evaluate("workflow.name", scope)
	require.NoError(t, err)
	assert.Equal(t, "my-workflow", v)
}

func TestEvaluate_UndefinedVariableErrors(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	_, err := e.Evaluate("nonexistent", scope)
	assert.Error(t, err)
}

func TestEvaluate_MissingOutputResolvesToNil(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{outputs: map[string]interface{}{}}

	v, err := e.Evaluate("output.missing", scope)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvaluate_SyntaxErrorPropagates(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	_, err := e.Evaluate("1 +", scope)
	assert.Error(t, err)
}

func TestEvaluate_ArithmeticPrecedence(t *testing.T) {
	e := NewEvaluator()
	scope := &fakeScope{}

	v, err := e.Evaluate("2 + 3 * 4", scope)
	require.NoError(t, err)
	assert.Equal(t, float64(14), v)
}
