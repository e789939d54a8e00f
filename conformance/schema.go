package conformance

import "gopkg.in/yaml.v3"

// Suite is one YAML fixture file.
type Suite struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Tests       []Case `yaml:"tests"`
}

// Case is a single program run and its expected outcome.
//
// Program accepts every shape wire.ProgramFromValue does: a bare bytecode
// list, a {bytecode, globals} object or a {chunks: {...}} table. Operations
// may be written by name with the !op tag, e.g. `!op RETURN`.
type Case struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Skip        string      `yaml:"skip,omitempty"`
	Program     yaml.Node   `yaml:"program"`
	Globals     yaml.Node   `yaml:"globals,omitempty"`
	Timeout     string      `yaml:"timeout,omitempty"`
	MemoryLimit int         `yaml:"memory_limit,omitempty"`
	Expect      Expectation `yaml:"expect"`
}

// Expectation describes the outcome of a case. Value and JSON compare the
// printed form of the result. Error names an error kind and Match is a
// regular expression the error message must match.
type Expectation struct {
	Value  *string  `yaml:"value,omitempty"`
	JSON   string   `yaml:"json,omitempty"`
	Output []string `yaml:"output,omitempty"`
	Error  string   `yaml:"error,omitempty"`
	Match  string   `yaml:"match,omitempty"`
}
