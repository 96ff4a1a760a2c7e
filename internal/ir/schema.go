package ir

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// wireSchema is the CUE definition of the CollaborationEvent wire format.
// Unknown extra fields are tolerated for forward compatibility.
const wireSchema = `
#NonBlank: string & =~"\\S"
#Millis:   int & >0
#Users:    [...string]

#Graft: {
	eventId?:  string
	eventType: "GRAFT"
	userId:    #NonBlank
	timestamp: #Millis
	data: {
		after:     #NonBlank
		agentName: #NonBlank
		...
	}
	...
}

#Prune: {
	eventId?:  string
	eventType: "PRUNE"
	userId:    #NonBlank
	timestamp: #Millis
	data: {
		stepId:   #NonBlank
		isPruned: bool
		...
	}
	...
}

#Flag: {
	eventId?:  string
	eventType: "FLAG"
	userId:    #NonBlank
	timestamp: #Millis
	data: {
		stepId: #NonBlank
		note?:  string
		...
	}
	...
}

#Join: {
	eventId?:  string
	eventType: "USER_JOIN"
	userId:    #NonBlank
	timestamp: #Millis
	data: {
		activeUsers?: #Users
		...
	}
	...
}

#Leave: {
	eventId?:  string
	eventType: "USER_LEAVE"
	userId:    #NonBlank
	timestamp: #Millis
	data: {
		activeUsers?: #Users
		...
	}
	...
}

#Cursor: {
	eventId?:  string
	eventType: "CURSOR_MOVE"
	userId:    #NonBlank
	timestamp: #Millis
	data: {
		nodeId: #NonBlank
		...
	}
	...
}

#Event: #Graft | #Prune | #Flag | #Join | #Leave | #Cursor
`

// Validator checks raw messages against the CUE wire schema.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so Validate
// serializes callers with an internal mutex.
type Validator struct {
	mu    sync.Mutex
	ctx   *cue.Context
	event cue.Value
}

// NewValidator compiles the wire schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(wireSchema, cue.Filename("event.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile wire schema: %s", errors.Details(err, nil))
	}
	event := schema.LookupPath(cue.ParsePath("#Event"))
	if err := event.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Event: %w", err)
	}
	return &Validator{ctx: ctx, event: event}, nil
}

// Validate unifies raw with #Event and requires a concrete result.
func (v *Validator) Validate(raw []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	msg := v.ctx.CompileBytes(raw, cue.Filename("message.json"))
	if err := msg.Err(); err != nil {
		return &EventError{Code: ErrCodeMalformedPayload, Message: errors.Details(err, nil)}
	}

	if err := v.event.Unify(msg).Validate(cue.Concrete(true)); err != nil {
		return &EventError{Code: ErrCodeSchemaViolation, Message: firstLine(errors.Details(err, nil))}
	}
	return nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// DefaultValidator returns the process-wide validator.
// Panics if the embedded schema does not compile, which is a build defect.
func DefaultValidator() *Validator {
	v, err := defaultValidator()
	if err != nil {
		panic(err)
	}
	return v
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
