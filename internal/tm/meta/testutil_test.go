package meta

import "unsafe"

func addrOf(p *uint64) uintptr {
	return uintptr(unsafe.Pointer(p))
}
