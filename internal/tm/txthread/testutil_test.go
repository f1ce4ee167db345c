package txthread

import "unsafe"

func addrOfByte(p *byte) uintptr {
	return uintptr(unsafe.Pointer(p))
}
