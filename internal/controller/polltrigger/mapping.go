package polltrigger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// InputMapper evaluates a trigger's input mapping against each fired
// payload. Mapping values are expr-lang expressions over the variables
// payload, trigger, and piece:
//
//	input_mapping:
//	  issue_key: payload.key
//	  urgent: payload.priority in ["Highest", "High"]
type InputMapper struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewInputMapper creates a new input mapper.
func NewInputMapper() *InputMapper {
	return &InputMapper{
		cache: make(map[string]*vm.Program),
	}
}

// Validate compiles every expression in mapping and reports the first
// failure by input name.
func (m *InputMapper) Validate(mapping map[string]string) error {
	for _, name := range sortedKeys(mapping) {
		if _, err := m.compile(mapping[name]); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}
	return nil
}

// Map evaluates mapping for one payload. A nil or empty mapping yields nil.
func (m *InputMapper) Map(mapping map[string]string, trigger, piece string, payload map[string]interface{}) (map[string]interface{}, error) {
	if len(mapping) == 0 {
		return nil, nil
	}

	env := map[string]interface{}{
		"payload": payload,
		"trigger": trigger,
		"piece":   piece,
	}

	inputs := make(map[string]interface{}, len(mapping))
	for _, name := range sortedKeys(mapping) {
		program, err := m.compile(mapping[name])
		if err != nil {
			return nil, fmt.Errorf("input %q: failed to compile expression: %w", name, err)
		}

		value, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("input %q: expression evaluation failed: %w", name, err)
		}
		inputs[name] = value
	}
	return inputs, nil
}

// compile compiles an expression and caches the result.
func (m *InputMapper) compile(expression string) (*vm.Program, error) {
	m.mu.RLock()
	if prog, ok := m.cache[expression]; ok {
		m.mu.RUnlock()
		return prog, nil
	}
	m.mu.RUnlock()

	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[expression] = prog
	m.mu.Unlock()

	return prog, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
