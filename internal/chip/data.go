package chip

import (
	"encoding/binary"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// GetDataObject params.
const (
	ParamReadData     byte = 0x00
	ParamReadMetadata byte = 0x01
)

// SetDataObject params.
const (
	ParamWriteData     byte = 0x00
	ParamWriteMetadata byte = 0x01
	ParamWriteCount    byte = 0x02
	ParamEraseAndWrite byte = 0x40
)

// tags the host may not set through a metadata write.
var readOnlyTags = []byte{metadata.TagMaxSize, metadata.TagUsedSize, metadata.TagAlgorithm, metadata.TagKeyUsage}

func (c *Chip) executeGetDataObject(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok || isSession(oid) {
		return nil, errorcodes.Err8001
	}
	obj, err := c.lookup(oid)
	if err != nil {
		return nil, err
	}

	switch cmd.Param {
	case ParamReadMetadata:
		return []apdu.Field{apdu.Bytes(apdu.TagData, c.reportedMetadata(oid, obj).Bytes())}, nil
	case ParamReadData:
	default:
		return nil, errorcodes.Err8003
	}

	if obj.md.MaxSize() == 0 {
		return nil, errorcodes.Err8007
	}
	if !c.allowed(obj, metadata.TagRead, req) {
		return nil, errorcodes.Err8007
	}

	data := c.objectData(oid, obj)
	offset, _ := cmd.Uint16(apdu.TagOffset)
	if int(offset) > len(data) {
		return nil, errorcodes.Err8008
	}
	data = data[offset:]
	if n, ok := cmd.Uint16(apdu.TagLength); ok && int(n) < len(data) {
		data = data[:n]
	}
	if oid == OIDLastErrors {
		c.lastErrors = nil
	}

	return []apdu.Field{apdu.Bytes(apdu.TagData, data)}, nil
}

// reportedMetadata adds the used size to the stored metadata of data objects.
func (c *Chip) reportedMetadata(oid uint16, obj *object) metadata.Metadata {
	md := obj.md.Clone()
	if md.MaxSize() > 0 {
		n := len(c.objectData(oid, obj))
		md.Set(metadata.TagUsedSize, byte(n>>8), byte(n))
	}

	return md
}

// objectData returns the live value of oid including computed objects.
func (c *Chip) objectData(oid uint16, obj *object) []byte {
	switch oid {
	case OIDSecurityCounter:
		return []byte{byte(c.securityCounter())}
	case OIDLastErrors:
		return append([]byte(nil), c.lastErrors...)
	}

	return obj.data
}

func (c *Chip) executeSetDataObject(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok || isSession(oid) {
		return nil, errorcodes.Err8001
	}
	obj, err := c.lookup(oid)
	if err != nil {
		return nil, err
	}
	value, ok := cmd.Get(apdu.TagData)
	if !ok {
		return nil, errorcodes.Err8005
	}

	switch cmd.Param {
	case ParamWriteMetadata:
		return nil, c.writeMetadata(obj, value)
	case ParamWriteCount:
		return nil, c.incrementCounter(obj, value, req)
	case ParamWriteData, ParamEraseAndWrite:
	default:
		return nil, errorcodes.Err8003
	}

	if obj.md.MaxSize() == 0 {
		return nil, errorcodes.Err8007
	}
	if !c.allowed(obj, metadata.TagChange, req) {
		return nil, errorcodes.Err8007
	}
	offset, _ := cmd.Uint16(apdu.TagOffset)

	return nil, writeAt(obj, int(offset), value, cmd.Param == ParamEraseAndWrite)
}

func writeAt(obj *object, offset int, value []byte, erase bool) error {
	if offset+len(value) > obj.md.MaxSize() {
		return errorcodes.Err8008
	}
	data := obj.data
	if erase {
		data = nil
	}
	if offset > len(data) {
		data = append(data, make([]byte, offset-len(data))...)
	}
	end := offset + len(value)
	if end > len(data) {
		data = append(data, make([]byte, end-len(data))...)
	}
	copy(data[offset:], value)
	obj.data = data

	return nil
}

func (c *Chip) writeMetadata(obj *object, raw []byte) error {
	if obj.md.Lifecycle() >= metadata.LcsOperational {
		return errorcodes.Err8007
	}
	update, err := metadata.Parse(raw)
	if err != nil {
		return errorcodes.Err8009
	}
	for _, t := range readOnlyTags {
		if _, ok := update[t]; ok {
			return errorcodes.Err8005
		}
	}
	if v, ok := update[metadata.TagLcsO]; ok {
		if len(v) != 1 || v[0] < obj.md.Lifecycle() {
			return errorcodes.Err8005
		}
	}
	for t, v := range update {
		if t == metadata.TagChange || t == metadata.TagRead || t == metadata.TagExecute {
			if _, err := metadata.ParseCondition(v); err != nil {
				return errorcodes.Err8005
			}
		}
	}
	obj.md.Merge(update)

	return nil
}

// incrementCounter adds value[0] to a monotonic counter laid out as count||threshold.
func (c *Chip) incrementCounter(obj *object, value []byte, req *request) error {
	if obj.md.Type() != metadata.TypeUpCounter || len(obj.data) != 8 || len(value) != 1 {
		return errorcodes.Err8005
	}
	if !c.allowed(obj, metadata.TagChange, req) {
		return errorcodes.Err8007
	}
	count := binary.BigEndian.Uint32(obj.data[:4])
	threshold := binary.BigEndian.Uint32(obj.data[4:])
	next := count + uint32(value[0])
	if next > threshold || next < count {
		return errorcodes.Err800E
	}
	binary.BigEndian.PutUint32(obj.data[:4], next)

	return nil
}
