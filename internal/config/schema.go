package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// schemaValidator checks a Config against the embedded CUE schema. A cue
// context is not safe for concurrent use, hence the mutex.
type schemaValidator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
	err    error
}

func newSchemaValidator() *schemaValidator {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	def := v.LookupPath(cue.ParsePath("#Config"))

	sv := &schemaValidator{ctx: ctx, schema: def}
	if v.Err() != nil {
		sv.err = fmt.Errorf("error building config schema: %v", v.Err())
	} else if !def.Exists() {
		sv.err = fmt.Errorf("#Config definition not found in config schema")
	}
	return sv
}

// Validate reports every schema violation in cfg
func (sv *schemaValidator) Validate(cfg *Config) error {
	if sv.err != nil {
		return sv.err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	doc := sv.ctx.CompileBytes(data, cue.Filename("config.json"))
	if doc.Err() != nil {
		return fmt.Errorf("failed to compile config: %v", doc.Err())
	}
	if err := sv.schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}
