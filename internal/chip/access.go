package chip

import (
	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// request carries the per-frame security context a command is evaluated under.
type request struct {
	protected bool   // frame MAC verified with the binding secret
	integrity uint16 // trust anchor validated during a protected update, 0 otherwise
}

// allowed evaluates the access condition stored under tag for obj. A missing
// condition is treated as ALW.
func (c *Chip) allowed(obj *object, tag byte, req *request) bool {
	raw, ok := obj.md[tag]
	if !ok || len(raw) == 0 {
		return true
	}
	expr, err := metadata.ParseCondition(raw)
	if err != nil {
		return false
	}
	for _, group := range expr {
		if c.groupHolds(obj, group, req) {
			return true
		}
	}

	return false
}

func (c *Chip) groupHolds(obj *object, group []metadata.Condition, req *request) bool {
	for _, cond := range group {
		if !c.conditionHolds(obj, cond, req) {
			return false
		}
	}

	return len(group) > 0
}

func (c *Chip) conditionHolds(obj *object, cond metadata.Condition, req *request) bool {
	switch cond.ID {
	case metadata.ACAlways:
		return true
	case metadata.ACNever:
		return false
	case metadata.ACConf:
		return req.protected && cond.OID == OIDBindingSecret
	case metadata.ACInt:
		return req.integrity != 0 && req.integrity == cond.OID
	case metadata.ACAuto:
		return c.autoState[cond.OID]
	case metadata.ACLcsO:
		lcs := obj.md.Lifecycle()
		switch cond.Cmp {
		case metadata.CmpLess:
			return lcs < cond.Val
		case metadata.CmpEqual:
			return lcs == cond.Val
		case metadata.CmpGreat:
			return lcs > cond.Val
		}
	}

	return false
}

// lookup returns the object or session addressed by oid.
func (c *Chip) lookup(oid uint16) (*object, error) {
	if isSession(oid) {
		s := c.sessions[oid-OIDSession1]
		if s == nil {
			return nil, errorcodes.Err8001
		}

		return s, nil
	}
	obj, ok := c.objects[oid]
	if !ok {
		return nil, errorcodes.Err8001
	}

	return obj, nil
}

// keyFor resolves a key slot and checks its execute condition and usage.
func (c *Chip) keyFor(oid uint16, usage byte, req *request) (*object, error) {
	obj, err := c.lookup(oid)
	if err != nil {
		return nil, err
	}
	if obj.key == nil {
		return nil, errorcodes.Err8005
	}
	if !c.allowed(obj, metadata.TagExecute, req) {
		return nil, errorcodes.Err8007
	}
	if usage != 0 {
		u, ok := obj.md[metadata.TagKeyUsage]
		if !ok || len(u) != 1 || u[0]&usage == 0 {
			return nil, errorcodes.Err8007
		}
	}

	return obj, nil
}

// secretFor resolves a secret used for derivation or MAC: a session holding
// shared secret material, or a data object of one of the allowed types.
func (c *Chip) secretFor(oid uint16, req *request, types ...byte) ([]byte, *object, error) {
	if isSession(oid) {
		s, err := c.lookup(oid)
		if err != nil {
			return nil, nil, err
		}
		if len(s.data) == 0 {
			return nil, nil, errorcodes.Err8005
		}

		return s.data, s, nil
	}
	obj, err := c.lookup(oid)
	if err != nil {
		return nil, nil, err
	}
	if !c.allowed(obj, metadata.TagExecute, req) {
		return nil, nil, errorcodes.Err8007
	}
	typ := obj.md.Type()
	match := false
	for _, t := range types {
		if t == typ {
			match = true
		}
	}
	if !match || len(obj.data) == 0 {
		return nil, nil, errorcodes.Err8005
	}

	return obj.data, obj, nil
}
