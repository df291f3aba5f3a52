package optiga

import (
	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// Util is a utility-service instance: application lifecycle and data objects.
type Util struct {
	*instance
}

// NewUtil creates a Util instance on h. cb is invoked once per accepted operation.
func (h *Host) NewUtil(cb Callback) (*Util, error) {
	in, err := newInstance(h, "util", cb, errorcodes.ErrUtilBusy, errorcodes.ErrUtilInvalidInput)
	if err != nil {
		return nil, err
	}

	return &Util{instance: in}, nil
}

// Destroy releases the instance. It fails while an operation is outstanding.
func (u *Util) Destroy() error {
	if u.isBusy() {
		return errorcodes.ErrUtilBusy
	}

	return nil
}

// OpenApplication opens the application on the chip. With restore set, the
// context saved by a previous hibernate is restored.
func (u *Util) OpenApplication(restore bool) error {
	cmd := apdu.NewCommand(apdu.CmdOpenApplication, 0)
	if restore {
		handle := u.host.contextHandle()
		if handle == nil {
			return errorcodes.ErrCmdNoContextHandle
		}
		cmd = apdu.NewCommand(apdu.CmdOpenApplication, paramOpenRestore, apdu.Bytes(apdu.TagHandle, handle))
	}

	return u.send(cmd, func([]apdu.Field) error {
		if restore {
			u.host.setHandle(nil)
		}

		return nil
	})
}

// CloseApplication closes the application. With hibernate set, the chip
// saves its session contexts and the returned handle is kept on the Host.
func (u *Util) CloseApplication(hibernate bool) error {
	if !hibernate {
		return u.send(apdu.NewCommand(apdu.CmdCloseApplication, 0), nil)
	}

	return u.send(apdu.NewCommand(apdu.CmdCloseApplication, paramCloseHibernate), func(fields []apdu.Field) error {
		handle, ok := apdu.Lookup(fields, apdu.TagHandle)
		if !ok {
			return errorcodes.ErrCmdInvalidResponse
		}
		u.host.setHandle(append([]byte(nil), handle...))

		return nil
	})
}

// ReadData reads oid starting at offset into out.
func (u *Util) ReadData(oid, offset uint16, out *[]byte) error {
	if out == nil {
		return u.invalid
	}

	return u.send(apdu.NewCommand(apdu.CmdGetDataObject, paramReadData,
		apdu.Uint16(apdu.TagOID, oid), apdu.Uint16(apdu.TagOffset, offset)), into(out, apdu.TagData))
}

// ReadMetadata reads the metadata TLV of oid into out.
func (u *Util) ReadMetadata(oid uint16, out *[]byte) error {
	if out == nil {
		return u.invalid
	}

	return u.send(apdu.NewCommand(apdu.CmdGetDataObject, paramReadMetadata,
		apdu.Uint16(apdu.TagOID, oid)), into(out, apdu.TagData))
}

// WriteData writes data to oid at offset.
func (u *Util) WriteData(oid uint16, mode WriteMode, offset uint16, data []byte) error {
	if len(data) == 0 || (mode != WriteOnly && mode != EraseAndWrite) {
		return u.invalid
	}

	return u.send(apdu.NewCommand(apdu.CmdSetDataObject, byte(mode),
		apdu.Uint16(apdu.TagOID, oid), apdu.Uint16(apdu.TagOffset, offset), apdu.Bytes(apdu.TagData, data)), nil)
}

// WriteMetadata merges the metadata TLV md into the metadata of oid.
func (u *Util) WriteMetadata(oid uint16, md []byte) error {
	if len(md) < 2 {
		return u.invalid
	}

	return u.send(apdu.NewCommand(apdu.CmdSetDataObject, paramWriteMetadata,
		apdu.Uint16(apdu.TagOID, oid), apdu.Bytes(apdu.TagData, md)), nil)
}

// UpdateCount increments the monotonic counter oid by count.
func (u *Util) UpdateCount(oid uint16, count byte) error {
	return u.send(apdu.NewCommand(apdu.CmdSetDataObject, paramWriteCount,
		apdu.Uint16(apdu.TagOID, oid), apdu.Bytes(apdu.TagData, []byte{count})), nil)
}

// ProtectedUpdateStart sends the signed manifest of a protected update.
func (u *Util) ProtectedUpdateStart(manifest []byte) error {
	return u.protectedUpdate(paramUpdateStart, manifest)
}

// ProtectedUpdateContinue sends a non-final fragment.
func (u *Util) ProtectedUpdateContinue(fragment []byte) error {
	return u.protectedUpdate(paramUpdateContinue, fragment)
}

// ProtectedUpdateFinal sends the last fragment and commits the update.
func (u *Util) ProtectedUpdateFinal(fragment []byte) error {
	return u.protectedUpdate(paramUpdateFinal, fragment)
}

func (u *Util) protectedUpdate(param byte, data []byte) error {
	if len(data) == 0 {
		return u.invalid
	}

	return u.send(apdu.NewCommand(apdu.CmdSetObjectProtected, param, apdu.Bytes(apdu.TagData, data)), nil)
}
