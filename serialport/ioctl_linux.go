package serialport

var (
	tcgets  = uintptr(0x5401)
	tcsets  = uintptr(0x5402)
	tcsetsw = uintptr(0x5403)
	tcsetsf = uintptr(0x5404)

	tcsbrk = uintptr(0x5409)
	tcflsh = uintptr(0x540B)
)
