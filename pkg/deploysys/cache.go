package deploysys

import (
	"encoding/gob"
	"os"
)

func init() {
	gob.Register(Plan{})
	gob.Register(Step{})
	gob.Register(StepCmdScript{})
	gob.Register(StepCmdStepRef{})
}

// WriteCache stores the resolved option values and the parsed plan so later
// runs can skip the configure phase.
func WriteCache(file string, options map[string]string, plan Plan) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(options)
	if err != nil {
		return err
	}

	return encoder.Encode(plan)
}

// ReadCache restores the option values and plan written by WriteCache.
func ReadCache(file string) (map[string]string, Plan, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var options map[string]string
	err = decoder.Decode(&options)
	if err != nil {
		return nil, nil, err
	}

	var result Plan
	err = decoder.Decode(&result)
	if err != nil {
		return options, nil, err
	}

	return options, result, nil
}
